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

// Add appends a header value, keeping existing values.
type Add struct {
	header    string
	value     string
	direction common.Direction
}

func (a *Add) Type() common.ActionType {
	return common.ActionAdd
}

func (a *Add) Direction() common.Direction {
	return a.direction
}

func (a *Add) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if a.direction.Request() {
		a.apply(req.Header, req)
	}
	return req, nil, nil
}

func (a *Add) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if a.direction.Response() {
		a.apply(resp.Header, common.RequestOf(resp))
	}
	return resp, nil
}

func (a *Add) apply(h http.Header, req *http.Request) {
	h.Add(a.header, a.value)
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Add Header %s (%s)", a.header, a.value))
}

// Clone returns the receiver; Add keeps no per-exchange state.
func (a *Add) Clone() common.Action {
	return a
}

func (a *Add) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      a.Type(),
		"header":    a.header,
		"value":     a.value,
		"direction": a.direction,
	})
}

func (a *Add) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(a.Type())),
		slog.String("header", a.header),
		slog.String("value", a.value),
		slog.String("direction", string(a.direction)),
	)
}

func NewAdd(header, value string, direction common.Direction) *Add {
	return &Add{
		header:    http.CanonicalHeaderKey(header),
		value:     value,
		direction: direction,
	}
}
