package match

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// Method matches any of a comma separated list of request methods.
type Method struct {
	base
	methods []string
}

func (m *Method) Type() common.RuleType {
	return common.RuleTypeMethod
}

func (m *Method) Match(req *http.Request) bool {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return slices.Contains(m.methods, strings.ToUpper(method))
}

func (m *Method) Clone() common.Rule {
	c := *m
	c.base = m.cloned()
	return &c
}

func (m *Method) MarshalJSON() ([]byte, error) {
	return m.marshal(m.Type(), map[string]any{"methods": m.methods})
}

func (m *Method) LogValue() slog.Value {
	return m.logValue(m.Type(), slog.String("methods", strings.Join(m.methods, ",")))
}

func NewMethod(rule *config.Rule, a common.Action) *Method {
	var methods []string
	for _, s := range strings.Split(rule.MatchValue, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			methods = append(methods, s)
		}
	}
	return &Method{
		base:    newBase(rule, a),
		methods: methods,
	}
}
