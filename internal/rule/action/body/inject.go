package body

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/dlclark/regexp2"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/log"
)

var (
	headClose = regexp2.MustCompile(`</head\s*>`, regexp2.IgnoreCase)
	bodyClose = regexp2.MustCompile(`</body\s*>`, regexp2.IgnoreCase)
)

// Inject inserts a snippet into text/html responses, before </head> when
// present, else before </body>, else at the end of the document.
type Inject struct {
	snippet string
}

func (i *Inject) Type() common.ActionType {
	return common.ActionInject
}

func (i *Inject) Direction() common.Direction {
	return common.DirectionResponse
}

func (i *Inject) RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	return req, nil, nil
}

func (i *Inject) RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if !isHTML(resp.Header.Get("Content-Type")) || common.Encoded(resp.Header) {
		return resp, nil
	}
	body, err := common.ReadResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	out, err := inject(string(body), i.snippet)
	if err != nil {
		return nil, err
	}
	common.SetResponseBody(resp, []byte(out))

	req := common.RequestOf(resp)
	log.LogInfoWithAddr(common.SrcAddr(req), common.DestAddr(req), fmt.Sprintf("Inject %d bytes into HTML", len(i.snippet)))
	return resp, nil
}

// inject works on runes because regexp2 match offsets are rune indexes.
func inject(doc, snippet string) (string, error) {
	runes := []rune(doc)
	for _, re := range []*regexp2.Regexp{headClose, bodyClose} {
		m, err := re.FindRunesMatch(runes)
		if err != nil {
			return "", fmt.Errorf("FindRunesMatch: %w", err)
		}
		if m != nil {
			return string(runes[:m.Index]) + snippet + string(runes[m.Index:]), nil
		}
	}
	return doc + snippet, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

func (i *Inject) Clone() common.Action {
	return i
}

func (i *Inject) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      i.Type(),
		"snippet":   i.snippet,
		"direction": i.Direction(),
	})
}

func (i *Inject) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(i.Type())),
		slog.Int("snippet_len", len(i.snippet)),
	)
}

func NewInject(snippet string) *Inject {
	return &Inject{snippet: snippet}
}
