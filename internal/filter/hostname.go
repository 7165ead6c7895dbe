package filter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// HostnameEntry is one parsed domain[:port] entry.
//   - Default port is 443
//   - Port 0 means match all ports
//   - Domain is a path.Match glob (*.example.com, api-?.example.com, [ab].example.com)
type HostnameEntry struct {
	Domain  string
	Port    string
	AllPort bool
}

// HostnameFilter makes a connection eligible when its host and port match
// one of the configured entries.
type HostnameFilter struct {
	entries []HostnameEntry
}

// NewHostnameFilter parses the entries, skipping the ones that do not parse.
// Each entry may itself be a comma separated list.
//
// Format examples:
//   - "example.com"       match example.com on port 443
//   - "example.com:8443"  match example.com on port 8443
//   - "example.com:0"     match example.com on all ports
//   - "*.example.com"     match any subdomain of example.com on port 443
//   - "*:0"               match all domains on all ports
func NewHostnameFilter(hostnames []string) *HostnameFilter {
	var entries []HostnameEntry
	for _, hostname := range hostnames {
		for _, part := range strings.Split(hostname, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			entry, err := parseHostnameEntry(part)
			if err != nil {
				slog.Error("MitM hostname filter parse error", slog.String("entry", part), slog.Any("error", err))
				continue
			}
			entries = append(entries, entry)
		}
	}
	if len(entries) > 0 {
		slog.Info("MitM hostname filter configured", slog.Int("entries", len(entries)))
	}
	return &HostnameFilter{entries: entries}
}

func parseHostnameEntry(s string) (HostnameEntry, error) {
	entry := HostnameEntry{Domain: s, Port: "443"}

	// SNI hostnames are domain names, so the last colon is a port separator.
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if port, err := strconv.Atoi(s[i+1:]); err == nil {
			if port < 0 || port > 65535 {
				return entry, fmt.Errorf("port %d out of range (0-65535)", port)
			}
			entry.Domain = s[:i]
			entry.Port = s[i+1:]
			entry.AllPort = port == 0
		}
	}

	entry.Domain = strings.TrimSpace(entry.Domain)
	if entry.Domain == "" {
		return entry, fmt.Errorf("empty domain")
	}
	return entry, nil
}

func (f *HostnameFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.entries)
}

func (f *HostnameFilter) Eligible(ctx context.Context, conn ConnInfo, req *http.Request) bool {
	return f.Allow(conn.Host(), conn.Port)
}

// Allow reports whether serverName on port should be intercepted.
func (f *HostnameFilter) Allow(serverName string, port string) bool {
	if f == nil {
		return false
	}
	for _, entry := range f.entries {
		if entry.matchPort(port) && matchDomain(entry.Domain, serverName) {
			return true
		}
	}
	return false
}

func (e *HostnameEntry) matchPort(port string) bool {
	return e.AllPort || e.Port == port
}

// matchDomain uses path.Match, so "*.example.com" matches a.b.example.com
// but not example.com itself. Invalid patterns fall back to equality.
func matchDomain(pattern, serverName string) bool {
	pattern = strings.ToLower(pattern)
	serverName = strings.ToLower(serverName)

	matched, err := path.Match(pattern, serverName)
	if err != nil {
		return pattern == serverName
	}
	return matched
}

var _ Filter = (*HostnameFilter)(nil)
