package match

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

type DomainKeyword struct {
	base
	domainKeyword string
}

func (d *DomainKeyword) Type() common.RuleType {
	return common.RuleTypeDomainKeyword
}

func (d *DomainKeyword) Match(req *http.Request) bool {
	return d.domainKeyword != "" && strings.Contains(common.Host(req), d.domainKeyword)
}

func (d *DomainKeyword) Clone() common.Rule {
	c := *d
	c.base = d.cloned()
	return &c
}

func (d *DomainKeyword) MarshalJSON() ([]byte, error) {
	return d.marshal(d.Type(), map[string]any{"domain_keyword": d.domainKeyword})
}

func (d *DomainKeyword) LogValue() slog.Value {
	return d.logValue(d.Type(), slog.String("domain_keyword", d.domainKeyword))
}

func NewDomainKeyword(rule *config.Rule, a common.Action) *DomainKeyword {
	return &DomainKeyword{
		base:          newBase(rule, a),
		domainKeyword: lower(rule.MatchValue),
	}
}
