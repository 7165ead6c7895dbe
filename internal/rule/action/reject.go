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

// Reject answers with a fixed status instead of contacting the upstream.
// With a RESPONSE direction the upstream reply is discarded and replaced.
type Reject struct {
	status    int
	direction common.Direction
}

func (r *Reject) Type() common.ActionType {
	return common.ActionReject
}

func (r *Reject) Direction() common.Direction {
	return r.direction
}

func (r *Reject) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if !r.direction.Request() {
		return req, nil, nil
	}
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Reject Request (%d)", r.status))
	return req, common.ErrorResponse(req, r.status), nil
}

func (r *Reject) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if r.direction != common.DirectionResponse {
		return resp, nil
	}
	req := common.RequestOf(resp)
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Reject Response %d (%d)", resp.StatusCode, r.status))
	return common.ErrorResponse(req, r.status), nil
}

func (r *Reject) Clone() common.Action {
	return r
}

func (r *Reject) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      r.Type(),
		"status":    r.status,
		"direction": r.direction,
	})
}

func (r *Reject) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type())),
		slog.Int("status", r.status),
		slog.String("direction", string(r.direction)),
	)
}

func NewReject(status int, direction common.Direction) *Reject {
	if status == 0 {
		status = http.StatusForbidden
	}
	if direction == common.DirectionDual {
		direction = common.DirectionRequest
	}
	return &Reject{
		status:    status,
		direction: direction,
	}
}
