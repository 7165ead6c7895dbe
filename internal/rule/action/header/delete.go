package header

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/log"
)

type Delete struct {
	header    string
	direction common.Direction
}

func (d *Delete) Type() common.ActionType {
	return common.ActionDelete
}

func (d *Delete) Direction() common.Direction {
	return d.direction
}

func (d *Delete) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if d.direction.Request() {
		d.apply(req.Header, req)
	}
	return req, nil, nil
}

func (d *Delete) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if d.direction.Response() {
		d.apply(resp.Header, common.RequestOf(resp))
	}
	return resp, nil
}

func (d *Delete) apply(h http.Header, req *http.Request) {
	values := h.Values(d.header)
	if len(values) == 0 {
		return
	}
	h.Del(d.header)
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Delete Header %s (%s)", d.header, strings.Join(values, ", ")))
}

func (d *Delete) Clone() common.Action {
	return d
}

func (d *Delete) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      d.Type(),
		"header":    d.header,
		"direction": d.direction,
	})
}

func (d *Delete) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(d.Type())),
		slog.String("header", d.header),
		slog.String("direction", string(d.direction)),
	)
}

func NewDelete(header string, direction common.Direction) *Delete {
	return &Delete{
		header:    http.CanonicalHeaderKey(header),
		direction: direction,
	}
}
