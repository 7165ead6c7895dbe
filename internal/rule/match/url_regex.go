package match

import (
	"log/slog"
	"net/http"

	"github.com/dlclark/regexp2"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// URLRegex matches against the absolute request URL, for example
// https://example.com/path?q=1.
type URLRegex struct {
	base
	regex *regexp2.Regexp
}

func (u *URLRegex) Type() common.RuleType {
	return common.RuleTypeURLRegex
}

func (u *URLRegex) Match(req *http.Request) bool {
	if u.regex == nil {
		return false
	}
	ok, err := u.regex.MatchString(common.URL(req))
	return err == nil && ok
}

func (u *URLRegex) Clone() common.Rule {
	c := *u
	c.base = u.cloned()
	return &c
}

func (u *URLRegex) MarshalJSON() ([]byte, error) {
	return u.marshal(u.Type(), map[string]any{"url_regex": regexString(u.regex)})
}

func (u *URLRegex) LogValue() slog.Value {
	return u.logValue(u.Type(), slog.String("url_regex", regexString(u.regex)))
}

func NewURLRegex(rule *config.Rule, a common.Action) (*URLRegex, error) {
	regex, err := compile(rule.MatchValue, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &URLRegex{
		base:  newBase(rule, a),
		regex: regex,
	}, nil
}
