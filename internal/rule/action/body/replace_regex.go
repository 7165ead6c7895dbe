package body

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/log"
)

const replaceTimeout = time.Second

// ReplaceRegex buffers the body of the side it serves and rewrites it with
// a regexp2 replacement. Bodies carrying a content-coding are skipped.
type ReplaceRegex struct {
	regex     *regexp2.Regexp
	value     string
	direction common.Direction
}

func (r *ReplaceRegex) Type() common.ActionType {
	return common.ActionBodyReplaceRegex
}

func (r *ReplaceRegex) Direction() common.Direction {
	return r.direction
}

func (r *ReplaceRegex) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if !r.direction.Request() || common.Encoded(req.Header) {
		return req, nil, nil
	}
	body, err := common.ReadRequestBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("read request body: %w", err)
	}
	if body == nil {
		return req, nil, nil
	}
	out, changed, err := r.replace(body)
	if err != nil {
		return nil, nil, err
	}
	common.SetRequestBody(req, out)
	if changed {
		log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Rewrite request body (%d -> %d bytes)", len(body), len(out)))
	}
	return req, nil, nil
}

func (r *ReplaceRegex) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if !r.direction.Response() || common.Encoded(resp.Header) {
		return resp, nil
	}
	body, err := common.ReadResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if body == nil {
		return resp, nil
	}
	out, changed, err := r.replace(body)
	if err != nil {
		return nil, err
	}
	common.SetResponseBody(resp, out)
	if changed {
		req := common.RequestOf(resp)
		log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Rewrite response body (%d -> %d bytes)", len(body), len(out)))
	}
	return resp, nil
}

func (r *ReplaceRegex) replace(body []byte) ([]byte, bool, error) {
	in := string(body)
	out, err := r.regex.Replace(in, r.value, -1, -1)
	if err != nil {
		return nil, false, fmt.Errorf("r.regex.Replace: %w", err)
	}
	return []byte(out), out != in, nil
}

func (r *ReplaceRegex) Clone() common.Action {
	return r
}

func (r *ReplaceRegex) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      r.Type(),
		"regex":     r.regex.String(),
		"value":     r.value,
		"direction": r.direction,
	})
}

func (r *ReplaceRegex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type())),
		slog.String("regex", r.regex.String()),
		slog.String("value", r.value),
		slog.String("direction", string(r.direction)),
	)
}

func NewReplaceRegex(pattern, value string, direction common.Direction) (*ReplaceRegex, error) {
	regex, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("regexp2.Compile %q: %w", pattern, err)
	}
	regex.MatchTimeout = replaceTimeout

	return &ReplaceRegex{
		regex:     regex,
		value:     value,
		direction: direction,
	}, nil
}
