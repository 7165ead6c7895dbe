package header

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

// ReplaceRegex rewrites every value of a header with a case-insensitive
// regexp2 replacement. Absent headers are left alone.
type ReplaceRegex struct {
	header    string
	regex     *regexp2.Regexp
	value     string
	direction common.Direction
}

func (r *ReplaceRegex) Type() common.ActionType {
	return common.ActionReplaceRegex
}

func (r *ReplaceRegex) Direction() common.Direction {
	return r.direction
}

func (r *ReplaceRegex) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if r.direction.Request() {
		if err := r.apply(req.Header, req); err != nil {
			return nil, nil, err
		}
	}
	return req, nil, nil
}

func (r *ReplaceRegex) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if r.direction.Response() {
		if err := r.apply(resp.Header, common.RequestOf(resp)); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (r *ReplaceRegex) apply(h http.Header, req *http.Request) error {
	values := h.Values(r.header)
	if len(values) == 0 {
		return nil
	}

	rewritten := make([]string, len(values))
	for i, v := range values {
		out, err := r.regex.Replace(v, r.value, -1, -1)
		if err != nil {
			return fmt.Errorf("r.regex.Replace: %w", err)
		}
		rewritten[i] = out
	}
	h[r.header] = rewritten

	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Rewrite %s from (%s) to (%s)", r.header, values[0], rewritten[0]))
	return nil
}

func (r *ReplaceRegex) Clone() common.Action {
	return r
}

func (r *ReplaceRegex) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      r.Type(),
		"header":    r.header,
		"regex":     r.regex.String(),
		"value":     r.value,
		"direction": r.direction,
	})
}

func (r *ReplaceRegex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type())),
		slog.String("header", r.header),
		slog.String("regex", r.regex.String()),
		slog.String("value", r.value),
		slog.String("direction", string(r.direction)),
	)
}

func NewReplaceRegex(header, pattern, value string, direction common.Direction) (*ReplaceRegex, error) {
	regex, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("regexp2.Compile %q: %w", pattern, err)
	}
	regex.MatchTimeout = 100 * time.Millisecond

	return &ReplaceRegex{
		header:    http.CanonicalHeaderKey(header),
		regex:     regex,
		value:     value,
		direction: direction,
	}, nil
}
