package match

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// Path matches the exact request path, query excluded.
type Path struct {
	base
	path string
}

func (p *Path) Type() common.RuleType {
	return common.RuleTypePath
}

func (p *Path) Match(req *http.Request) bool {
	return p.path != "" && requestPath(req) == p.path
}

func (p *Path) Clone() common.Rule {
	c := *p
	c.base = p.cloned()
	return &c
}

func (p *Path) MarshalJSON() ([]byte, error) {
	return p.marshal(p.Type(), map[string]any{"path": p.path})
}

func (p *Path) LogValue() slog.Value {
	return p.logValue(p.Type(), slog.String("path", p.path))
}

func NewPath(rule *config.Rule, a common.Action) *Path {
	return &Path{
		base: newBase(rule, a),
		path: strings.TrimSpace(rule.MatchValue),
	}
}

type PathPrefix struct {
	base
	prefix string
}

func (p *PathPrefix) Type() common.RuleType {
	return common.RuleTypePathPrefix
}

func (p *PathPrefix) Match(req *http.Request) bool {
	return p.prefix != "" && strings.HasPrefix(requestPath(req), p.prefix)
}

func (p *PathPrefix) Clone() common.Rule {
	c := *p
	c.base = p.cloned()
	return &c
}

func (p *PathPrefix) MarshalJSON() ([]byte, error) {
	return p.marshal(p.Type(), map[string]any{"path_prefix": p.prefix})
}

func (p *PathPrefix) LogValue() slog.Value {
	return p.logValue(p.Type(), slog.String("path_prefix", p.prefix))
}

func NewPathPrefix(rule *config.Rule, a common.Action) *PathPrefix {
	return &PathPrefix{
		base:   newBase(rule, a),
		prefix: strings.TrimSpace(rule.MatchValue),
	}
}

func requestPath(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	if req.URL.Path == "" {
		return "/"
	}
	return req.URL.Path
}
