package match

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

type HeaderKeyword struct {
	base
	header  string
	keyword string
}

func (h *HeaderKeyword) Type() common.RuleType {
	return common.RuleTypeHeaderKeyword
}

func (h *HeaderKeyword) Match(req *http.Request) bool {
	if h.keyword == "" {
		return false
	}
	for _, v := range headerValues(req, h.header) {
		if strings.Contains(strings.ToLower(v), h.keyword) {
			return true
		}
	}
	return false
}

func (h *HeaderKeyword) Clone() common.Rule {
	c := *h
	c.base = h.cloned()
	return &c
}

func (h *HeaderKeyword) MarshalJSON() ([]byte, error) {
	return h.marshal(h.Type(), map[string]any{
		"header":  h.header,
		"keyword": h.keyword,
	})
}

func (h *HeaderKeyword) LogValue() slog.Value {
	return h.logValue(h.Type(), slog.String("header", h.header), slog.String("keyword", h.keyword))
}

func NewHeaderKeyword(rule *config.Rule, a common.Action) *HeaderKeyword {
	return &HeaderKeyword{
		base:    newBase(rule, a),
		header:  http.CanonicalHeaderKey(rule.MatchHeader),
		keyword: strings.ToLower(rule.MatchValue),
	}
}

// headerValues returns every value of the named header. Host lives outside
// the header map once a request has been parsed.
func headerValues(req *http.Request, name string) []string {
	if name == "Host" {
		if req.Host != "" {
			return []string{req.Host}
		}
		if req.URL != nil {
			return []string{req.URL.Host}
		}
		return nil
	}
	return req.Header.Values(name)
}
