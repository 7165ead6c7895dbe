package header

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/log"
)

// Replace sets a header to a single value, adding it when absent.
type Replace struct {
	header    string
	value     string
	direction common.Direction
}

func (r *Replace) Type() common.ActionType {
	return common.ActionReplace
}

func (r *Replace) Direction() common.Direction {
	return r.direction
}

func (r *Replace) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if r.direction.Request() {
		r.apply(req.Header, req)
	}
	return req, nil, nil
}

func (r *Replace) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if r.direction.Response() {
		r.apply(resp.Header, common.RequestOf(resp))
	}
	return resp, nil
}

func (r *Replace) apply(h http.Header, req *http.Request) {
	original := h.Get(r.header)
	h.Set(r.header, r.value)
	if original == "" {
		return
	}
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Rewrite %s from (%s) to (%s)", r.header, original, r.value))
}

func (r *Replace) Clone() common.Action {
	return r
}

func (r *Replace) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      r.Type(),
		"header":    r.header,
		"value":     r.value,
		"direction": r.direction,
	})
}

func (r *Replace) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type())),
		slog.String("header", r.header),
		slog.String("value", r.value),
		slog.String("direction", string(r.direction)),
	)
}

func NewReplace(header, value string, direction common.Direction) *Replace {
	return &Replace{
		header:    http.CanonicalHeaderKey(header),
		value:     value,
		direction: direction,
	}
}
