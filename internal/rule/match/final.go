package match

import (
	"log/slog"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// Final matches every request.
type Final struct {
	base
}

func (f *Final) Type() common.RuleType {
	return common.RuleTypeFinal
}

func (f *Final) Match(req *http.Request) bool {
	return true
}

func (f *Final) Clone() common.Rule {
	return &Final{base: f.cloned()}
}

func (f *Final) MarshalJSON() ([]byte, error) {
	return f.marshal(f.Type(), nil)
}

func (f *Final) LogValue() slog.Value {
	return f.logValue(f.Type())
}

func NewFinal(rule *config.Rule, a common.Action) *Final {
	return &Final{base: newBase(rule, a)}
}
