package match

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// matchTimeout bounds a single regexp2 evaluation; a timeout is a non-match.
const matchTimeout = 100 * time.Millisecond

type HeaderRegex struct {
	base
	header string
	regex  *regexp2.Regexp
}

func (h *HeaderRegex) Type() common.RuleType {
	return common.RuleTypeHeaderRegex
}

func (h *HeaderRegex) Match(req *http.Request) bool {
	if h.regex == nil {
		return false
	}
	for _, v := range headerValues(req, h.header) {
		if ok, err := h.regex.MatchString(v); err == nil && ok {
			return true
		}
	}
	return false
}

func (h *HeaderRegex) Clone() common.Rule {
	c := *h
	c.base = h.cloned()
	return &c
}

func (h *HeaderRegex) MarshalJSON() ([]byte, error) {
	return h.marshal(h.Type(), map[string]any{
		"header": h.header,
		"regex":  regexString(h.regex),
	})
}

func (h *HeaderRegex) LogValue() slog.Value {
	return h.logValue(h.Type(), slog.String("header", h.header), slog.String("regex", regexString(h.regex)))
}

// NewHeaderRegex compiles the pattern case-insensitively.
func NewHeaderRegex(rule *config.Rule, a common.Action) (*HeaderRegex, error) {
	regex, err := compile(rule.MatchValue, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	return &HeaderRegex{
		base:   newBase(rule, a),
		header: http.CanonicalHeaderKey(rule.MatchHeader),
		regex:  regex,
	}, nil
}

// compile returns nil for an empty pattern so the rule never matches.
func compile(pattern string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	regex, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("regexp2.Compile %q: %w", pattern, err)
	}
	regex.MatchTimeout = matchTimeout
	return regex, nil
}

func regexString(r *regexp2.Regexp) string {
	if r == nil {
		return ""
	}
	return r.String()
}
