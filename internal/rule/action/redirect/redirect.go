package redirect

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

// Redirect answers a request whose URL matches regex with a redirect to
// the URL produced by the replacement. Non-matching requests pass through.
type Redirect struct {
	status       int
	regex        *regexp2.Regexp
	replaceValue string
}

func (r *Redirect) Type() common.ActionType {
	if r.status == http.StatusTemporaryRedirect {
		return common.ActionRedirect307
	}
	return common.ActionRedirect302
}

func (r *Redirect) Direction() common.Direction {
	return common.DirectionRequest
}

func (r *Redirect) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	url := common.URL(req)

	if match, err := r.regex.MatchString(url); err != nil || !match {
		return req, nil, nil
	}

	location, err := r.regex.Replace(url, r.replaceValue, -1, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("r.regex.Replace: %w", err)
	}

	resp := common.NewResponse(req, r.status, "", "")
	resp.Header.Set("Location", location)
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Redirect %d %s -> %s", r.status, url, location))
	return req, resp, nil
}

func (r *Redirect) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func (r *Redirect) Clone() common.Action {
	return r
}

func (r *Redirect) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":          r.Type(),
		"regex":         r.regex.String(),
		"replace_value": r.replaceValue,
	})
}

func (r *Redirect) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(r.Type())),
		slog.String("regex", r.regex.String()),
		slog.String("replace_value", r.replaceValue),
	)
}

func newRedirect(status int, pattern, replaceValue string) (*Redirect, error) {
	regex, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("regexp2.Compile %q: %w", pattern, err)
	}
	regex.MatchTimeout = 100 * time.Millisecond

	return &Redirect{
		status:       status,
		regex:        regex,
		replaceValue: replaceValue,
	}, nil
}

func NewRedirect302(pattern, replaceValue string) (*Redirect, error) {
	return newRedirect(http.StatusFound, pattern, replaceValue)
}

func NewRedirect307(pattern, replaceValue string) (*Redirect, error) {
	return newRedirect(http.StatusTemporaryRedirect, pattern, replaceValue)
}
