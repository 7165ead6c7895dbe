package match

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// DomainSuffix matches the domain itself and any of its subdomains.
type DomainSuffix struct {
	base
	domainSuffix string
}

func (d *DomainSuffix) Type() common.RuleType {
	return common.RuleTypeDomainSuffix
}

func (d *DomainSuffix) Match(req *http.Request) bool {
	if d.domainSuffix == "" {
		return false
	}
	return matchSuffix(common.Host(req), d.domainSuffix)
}

func (d *DomainSuffix) Clone() common.Rule {
	c := *d
	c.base = d.cloned()
	return &c
}

func (d *DomainSuffix) MarshalJSON() ([]byte, error) {
	return d.marshal(d.Type(), map[string]any{"domain_suffix": d.domainSuffix})
}

func (d *DomainSuffix) LogValue() slog.Value {
	return d.logValue(d.Type(), slog.String("domain_suffix", d.domainSuffix))
}

func NewDomainSuffix(rule *config.Rule, a common.Action) *DomainSuffix {
	return &DomainSuffix{
		base:         newBase(rule, a),
		domainSuffix: strings.TrimPrefix(lower(rule.MatchValue), "."),
	}
}

func matchSuffix(host, suffix string) bool {
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, suffix) && host[len(host)-len(suffix)-1] == '.'
}
