package match

import (
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

type Domain struct {
	base
	domain string
}

func (d *Domain) Type() common.RuleType {
	return common.RuleTypeDomain
}

func (d *Domain) Match(req *http.Request) bool {
	return d.domain != "" && common.Host(req) == d.domain
}

func (d *Domain) Clone() common.Rule {
	c := *d
	c.base = d.cloned()
	return &c
}

func (d *Domain) MarshalJSON() ([]byte, error) {
	return d.marshal(d.Type(), map[string]any{"domain": d.domain})
}

func (d *Domain) LogValue() slog.Value {
	return d.logValue(d.Type(), slog.String("domain", d.domain))
}

func NewDomain(rule *config.Rule, a common.Action) *Domain {
	return &Domain{
		base:   newBase(rule, a),
		domain: lower(rule.MatchValue),
	}
}
