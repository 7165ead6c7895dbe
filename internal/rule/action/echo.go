package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/log"
)

// Echo copies a request header onto the response of the same exchange.
// The captured values live on the clone the session holds, never on the
// rule set.
type Echo struct {
	header   string
	target   string
	captured []string
}

func (e *Echo) Type() common.ActionType {
	return common.ActionEcho
}

func (e *Echo) Direction() common.Direction {
	return common.DirectionDual
}

func (e *Echo) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	e.captured = append([]string(nil), req.Header.Values(e.header)...)
	return req, nil, nil
}

func (e *Echo) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if len(e.captured) == 0 {
		return resp, nil
	}
	resp.Header.Del(e.target)
	for _, v := range e.captured {
		resp.Header.Add(e.target, v)
	}
	req := common.RequestOf(resp)
	log.LogDebugWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Echo %s as %s", e.header, e.target))
	return resp, nil
}

// Clone returns a copy with nothing captured.
func (e *Echo) Clone() common.Action {
	return &Echo{header: e.header, target: e.target}
}

func (e *Echo) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   e.Type(),
		"header": e.header,
		"target": e.target,
	})
}

func (e *Echo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(e.Type())),
		slog.String("header", e.header),
		slog.String("target", e.target),
	)
}

// NewEcho echoes header back under target, or under its own name when
// target is empty.
func NewEcho(header, target string) *Echo {
	if target == "" {
		target = header
	}
	return &Echo{
		header: http.CanonicalHeaderKey(header),
		target: http.CanonicalHeaderKey(target),
	}
}
