package rule

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/rule/action"
	"github.com/mitmrw/mitmrw/internal/rule/match"
)

// Engine holds the compiled rule set. It is read-only after NewEngine and
// safe for concurrent use.
type Engine struct {
	rules []common.Rule
}

// NewEngine compiles the enabled rules in order. A rule that fails to
// compile is skipped with a warning, or fails the whole set when strict.
func NewEngine(ruleSet []config.Rule, strict bool) (*Engine, error) {
	rules := make([]common.Rule, 0, len(ruleSet))
	for i := range ruleSet {
		cfg := ruleSet[i]
		if !cfg.Enabled {
			continue
		}
		cfg.Normalize()
		if cfg.Name == "" {
			cfg.Name = fmt.Sprintf("%s#%d", cfg.Type, i)
		}

		r, err := NewRule(&cfg)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
			}
			slog.Warn("Invalid rule", slog.Any("rule", &cfg), slog.Any("error", err))
			continue
		}
		rules = append(rules, r)
	}
	return &Engine{rules: rules}, nil
}

// NewRule compiles one configured rule.
func NewRule(cfg *config.Rule) (common.Rule, error) {
	a, err := action.NewAction(cfg)
	if err != nil {
		return nil, fmt.Errorf("action.NewAction: %w", err)
	}

	switch common.RuleType(cfg.Type) {
	case common.RuleTypeDomain:
		return match.NewDomain(cfg, a), nil
	case common.RuleTypeDomainSuffix:
		return match.NewDomainSuffix(cfg, a), nil
	case common.RuleTypeDomainKeyword:
		return match.NewDomainKeyword(cfg, a), nil
	case common.RuleTypeDomainSet:
		return wrap(match.NewDomainSet(cfg, a))
	case common.RuleTypeHeaderKeyword:
		return match.NewHeaderKeyword(cfg, a), nil
	case common.RuleTypeHeaderRegex:
		return wrap(match.NewHeaderRegex(cfg, a))
	case common.RuleTypeURLRegex:
		return wrap(match.NewURLRegex(cfg, a))
	case common.RuleTypePath:
		return match.NewPath(cfg, a), nil
	case common.RuleTypePathPrefix:
		return match.NewPathPrefix(cfg, a), nil
	case common.RuleTypeMethod:
		return match.NewMethod(cfg, a), nil
	case common.RuleTypeSrcIP:
		return wrap(match.NewSrcIP(cfg, a))
	case common.RuleTypeDestPort:
		return wrap(match.NewDestPort(cfg, a))
	case common.RuleTypeExpr:
		return wrap(match.NewExpr(cfg, a))
	case common.RuleTypeFinal:
		return match.NewFinal(cfg, a), nil
	default:
		return nil, fmt.Errorf("unsupported rule type %q", cfg.Type)
	}
}

// wrap keeps a failed constructor from yielding a typed nil Rule.
func wrap[R common.Rule](r R, err error) (common.Rule, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Match returns clones of every rule accepting req, in rule-set order.
// A predicate that panics is treated as not matching.
func (e *Engine) Match(req *http.Request) []common.Rule {
	var matched []common.Rule
	for _, r := range e.rules {
		if !safeMatch(r, req) {
			continue
		}
		slog.Debug("Rule matched", slog.Any("rule", r), slog.String("url", common.URL(req)))
		matched = append(matched, r.Clone())
	}
	return matched
}

func safeMatch(r common.Rule, req *http.Request) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Rule predicate panicked", slog.String("rule", r.Name()), slog.Any("panic", p))
			ok = false
		}
	}()
	return r.Match(req)
}

// Rules returns the compiled rule set. Callers must not modify the rules.
func (e *Engine) Rules() []common.Rule {
	return e.rules
}

func (e *Engine) HasRules() bool {
	return len(e.rules) > 0
}
