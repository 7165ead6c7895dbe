package match

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

// SrcIP matches the client address against a CIDR. A bare address is
// treated as a single host.
type SrcIP struct {
	base
	ipNet *net.IPNet
}

func (s *SrcIP) Type() common.RuleType {
	return common.RuleTypeSrcIP
}

func (s *SrcIP) Match(req *http.Request) bool {
	if s.ipNet == nil {
		return false
	}
	ip := net.ParseIP(common.SrcIP(req))
	return ip != nil && s.ipNet.Contains(ip)
}

func (s *SrcIP) Clone() common.Rule {
	c := *s
	c.base = s.cloned()
	return &c
}

func (s *SrcIP) cidr() string {
	if s.ipNet == nil {
		return ""
	}
	return s.ipNet.String()
}

func (s *SrcIP) MarshalJSON() ([]byte, error) {
	return s.marshal(s.Type(), map[string]any{"ip_cidr": s.cidr()})
}

func (s *SrcIP) LogValue() slog.Value {
	return s.logValue(s.Type(), slog.String("ip_cidr", s.cidr()))
}

func NewSrcIP(rule *config.Rule, a common.Action) (*SrcIP, error) {
	s := &SrcIP{base: newBase(rule, a)}
	value := strings.TrimSpace(rule.MatchValue)
	if value == "" {
		return s, nil
	}
	if !strings.Contains(value, "/") {
		if strings.Contains(value, ":") {
			value += "/128"
		} else {
			value += "/32"
		}
	}
	_, ipNet, err := net.ParseCIDR(value)
	if err != nil {
		return nil, fmt.Errorf("net.ParseCIDR: %w", err)
	}
	s.ipNet = ipNet
	return s, nil
}
