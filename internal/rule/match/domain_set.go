package match

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

const domainSetFetchTimeout = 30 * time.Second

// domainSet is shared by a DomainSet rule and all of its clones.
type domainSet struct {
	mu      sync.RWMutex
	domains map[string]bool // domain -> apex included
	loaded  bool
}

// DomainSet matches hosts against a list loaded from a local file or a
// remote URL. A plain or "+." prefixed entry covers the domain and its
// subdomains, a "." prefixed entry only the subdomains. Lines starting
// with # are comments.
type DomainSet struct {
	base
	source string
	set    *domainSet
}

func (d *DomainSet) Type() common.RuleType {
	return common.RuleTypeDomainSet
}

func (d *DomainSet) Match(req *http.Request) bool {
	host := common.Host(req)
	if host == "" {
		return false
	}

	d.set.mu.RLock()
	defer d.set.mu.RUnlock()

	candidate := host
	for {
		if apex, ok := d.set.domains[candidate]; ok && (apex || candidate != host) {
			return true
		}
		i := strings.IndexByte(candidate, '.')
		if i < 0 {
			return false
		}
		candidate = candidate[i+1:]
	}
}

func (d *DomainSet) Clone() common.Rule {
	c := *d
	c.base = d.cloned()
	return &c
}

// Len returns the number of loaded entries.
func (d *DomainSet) Len() int {
	d.set.mu.RLock()
	defer d.set.mu.RUnlock()
	return len(d.set.domains)
}

// Loaded reports whether the source has been read successfully once.
func (d *DomainSet) Loaded() bool {
	d.set.mu.RLock()
	defer d.set.mu.RUnlock()
	return d.set.loaded
}

func (d *DomainSet) MarshalJSON() ([]byte, error) {
	return d.marshal(d.Type(), map[string]any{
		"source": d.source,
		"count":  d.Len(),
	})
}

func (d *DomainSet) LogValue() slog.Value {
	return d.logValue(d.Type(), slog.String("source", d.source), slog.Int("count", d.Len()))
}

// NewDomainSet reads a local source immediately and fails when it cannot.
// Remote sources are fetched in the background; the rule matches nothing
// until the first fetch succeeds.
func NewDomainSet(rule *config.Rule, a common.Action) (*DomainSet, error) {
	source := strings.TrimSpace(rule.MatchValue)
	d := &DomainSet{
		base:   newBase(rule, a),
		source: source,
		set:    &domainSet{domains: map[string]bool{}},
	}
	if source == "" {
		return d, nil
	}

	if isRemote(source) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), domainSetFetchTimeout)
			defer cancel()
			slog.Info("loading domain set", slog.String("source", source))
			if err := d.Reload(ctx); err != nil {
				slog.Error("d.Reload", slog.String("source", source), slog.Any("error", err))
				return
			}
			slog.Info("domain set loaded", slog.String("source", source), slog.Int("count", d.Len()))
		}()
		return d, nil
	}

	if err := d.Reload(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the source and swaps the list in place.
func (d *DomainSet) Reload(ctx context.Context) error {
	var (
		data []byte
		err  error
	)
	if isRemote(d.source) {
		data, err = fetch(ctx, d.source)
	} else {
		data, err = os.ReadFile(d.source)
	}
	if err != nil {
		return fmt.Errorf("load domain set %s: %w", d.source, err)
	}

	domains := parseDomainList(data)

	d.set.mu.Lock()
	d.set.domains = domains
	d.set.loaded = true
	d.set.mu.Unlock()
	return nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func parseDomainList(data []byte) map[string]bool {
	domains := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := lower(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+."):
			domains[line[2:]] = true
		case strings.HasPrefix(line, "."):
			if _, ok := domains[line[1:]]; !ok {
				domains[line[1:]] = false
			}
		default:
			domains[line] = true
		}
	}
	return domains
}
