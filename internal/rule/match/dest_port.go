package match

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

type DestPort struct {
	base
	port uint16
}

func (d *DestPort) Type() common.RuleType {
	return common.RuleTypeDestPort
}

func (d *DestPort) Match(req *http.Request) bool {
	if d.port == 0 {
		return false
	}
	port, err := strconv.ParseUint(common.DestPort(req), 10, 16)
	return err == nil && uint16(port) == d.port
}

func (d *DestPort) Clone() common.Rule {
	c := *d
	c.base = d.cloned()
	return &c
}

func (d *DestPort) MarshalJSON() ([]byte, error) {
	return d.marshal(d.Type(), map[string]any{"port": d.port})
}

func (d *DestPort) LogValue() slog.Value {
	return d.logValue(d.Type(), slog.Int("port", int(d.port)))
}

func NewDestPort(rule *config.Rule, a common.Action) (*DestPort, error) {
	d := &DestPort{base: newBase(rule, a)}
	value := strings.TrimSpace(rule.MatchValue)
	if value == "" {
		return d, nil
	}
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("strconv.ParseUint: %w", err)
	}
	d.port = uint16(port)
	return d, nil
}
