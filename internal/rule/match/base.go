package match

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// base carries what every rule has besides its predicate.
type base struct {
	name   string
	action common.Action
}

func newBase(rule *config.Rule, a common.Action) base {
	return base{name: rule.Name, action: a}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Action() common.Action {
	return b.action
}

// cloned returns a copy owning a fresh clone of the action.
func (b *base) cloned() base {
	return base{name: b.name, action: b.action.Clone()}
}

func (b *base) marshal(t common.RuleType, fields map[string]any) ([]byte, error) {
	m := map[string]any{
		"name":   b.name,
		"type":   t,
		"action": b.action,
	}
	for k, v := range fields {
		m[k] = v
	}
	return json.Marshal(m)
}

func (b *base) logValue(t common.RuleType, attrs ...slog.Attr) slog.Value {
	all := []slog.Attr{
		slog.String("name", b.name),
		slog.String("type", string(t)),
	}
	all = append(all, attrs...)
	all = append(all, slog.Any("action", b.action))
	return slog.GroupValue(all...)
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
