package action

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
)

// Direct leaves the exchange untouched. A matching DIRECT rule still marks
// the exchange as matched.
type Direct struct{}

func (d *Direct) Type() common.ActionType {
	return common.ActionDirect
}

func (d *Direct) Direction() common.Direction {
	return common.DirectionDual
}

func (d *Direct) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	return req, nil, nil
}

func (d *Direct) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func (d *Direct) Clone() common.Action {
	return d
}

func (d *Direct) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"type": d.Type()})
}

func (d *Direct) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(d.Type())))
}

func NewDirect() *Direct {
	return &Direct{}
}
