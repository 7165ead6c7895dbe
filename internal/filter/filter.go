package filter

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
)

// ConnInfo describes a client connection before any interception happens.
type ConnInfo struct {
	SrcAddr    string
	DestAddr   string
	ServerName string
	Port       string
}

// Host returns the name the connection targets: the SNI when present,
// otherwise the host part of DestAddr.
func (c ConnInfo) Host() string {
	if c.ServerName != "" {
		return c.ServerName
	}
	host, _, err := net.SplitHostPort(c.DestAddr)
	if err != nil {
		return c.DestAddr
	}
	return host
}

func (c ConnInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("src", c.SrcAddr),
		slog.String("dest", c.DestAddr),
		slog.String("sni", c.ServerName),
		slog.String("port", c.Port),
	)
}

// ConnInfoFromRequest builds the ConnInfo of a plain HTTP or CONNECT
// request.
func ConnInfoFromRequest(req *http.Request) ConnInfo {
	return ConnInfo{
		SrcAddr:  common.SrcAddr(req),
		DestAddr: common.DestAddr(req),
		Port:     common.DestPort(req),
	}
}

// Filter decides once per connection whether it is intercepted. req is the
// request that opened the connection and may be nil.
type Filter interface {
	Eligible(ctx context.Context, conn ConnInfo, req *http.Request) bool
}

type allowAll struct{}

func (allowAll) Eligible(context.Context, ConnInfo, *http.Request) bool { return true }

type denyAll struct{}

func (denyAll) Eligible(context.Context, ConnInfo, *http.Request) bool { return false }

var (
	AllowAll Filter = allowAll{}
	DenyAll  Filter = denyAll{}
)

// Default returns AllowAll or DenyAll.
func Default(allow bool) Filter {
	if allow {
		return AllowAll
	}
	return DenyAll
}

// New returns a HostnameFilter for the given entries, or Default when none
// of them parse.
func New(hostnames []string, defaultAllow bool) Filter {
	f := NewHostnameFilter(hostnames)
	if f.Len() == 0 {
		slog.Info("No MitM hostname configured", slog.Bool("default_allow", defaultAllow))
		return Default(defaultAllow)
	}
	return f
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, conn ConnInfo, req *http.Request) bool

func (f FilterFunc) Eligible(ctx context.Context, conn ConnInfo, req *http.Request) bool {
	return f(ctx, conn, req)
}

// TunnelsOnly applies f to CONNECT tunnels only. Absolute-form proxy
// requests are always eligible.
func TunnelsOnly(f Filter) Filter {
	return FilterFunc(func(ctx context.Context, conn ConnInfo, req *http.Request) bool {
		if req != nil && req.Method != http.MethodConnect {
			return true
		}
		return f.Eligible(ctx, conn, req)
	})
}
