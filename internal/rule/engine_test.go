package rule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

func enabled(rules ...config.Rule) []config.Rule {
	for i := range rules {
		rules[i].Enabled = true
	}
	return rules
}

func matchedNames(e *Engine, req *http.Request) []string {
	var names []string
	for _, r := range e.Match(req) {
		names = append(names, r.Name())
	}
	return names
}

func TestNewEngineSkipsDisabledAndInvalid(t *testing.T) {
	rules := []config.Rule{
		{Enabled: true, Name: "ok", Type: "DOMAIN", MatchValue: "a.com", Action: "DIRECT"},
		{Enabled: false, Name: "off", Type: "FINAL", Action: "DIRECT"},
		{Enabled: true, Name: "bad-regex", Type: "URL-REGEX", MatchValue: "(", Action: "DIRECT"},
		{Enabled: true, Name: "bad-type", Type: "NOPE", Action: "DIRECT"},
		{Enabled: true, Name: "bad-action", Type: "FINAL", Action: "NOPE"},
		{Enabled: true, Type: "final", Action: "direct"},
	}
	e, err := NewEngine(rules, false)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	var names []string
	for _, r := range e.Rules() {
		names = append(names, r.Name())
	}
	if !slices.Equal(names, []string{"ok", "FINAL#5"}) {
		t.Errorf("rules = %v", names)
	}
	if !e.HasRules() {
		t.Error("HasRules should be true")
	}
}

func TestNewEngineStrict(t *testing.T) {
	rules := enabled(config.Rule{Type: "EXPR", MatchValue: "host ==", Action: "DIRECT"})
	if _, err := NewEngine(rules, true); err == nil {
		t.Fatal("strict engine should reject an invalid rule")
	}
}

func TestEmptyEngine(t *testing.T) {
	e, err := NewEngine(nil, true)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.HasRules() {
		t.Error("HasRules should be false")
	}
	if got := e.Match(httptest.NewRequest(http.MethodGet, "http://a.com/", nil)); len(got) != 0 {
		t.Errorf("Match = %v", got)
	}
}

func TestMatchOrderAndDuplicates(t *testing.T) {
	e, err := NewEngine(enabled(
		config.Rule{Name: "A", Type: "DOMAIN", MatchValue: "example.com", Action: "DIRECT"},
		config.Rule{Name: "B", Type: "PATH", MatchValue: "/nope", Action: "DIRECT"},
		config.Rule{Name: "C", Type: "METHOD", MatchValue: "GET,HEAD", Action: "DIRECT"},
		config.Rule{Name: "A", Type: "DOMAIN", MatchValue: "example.com", Action: "DIRECT"},
	), true)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)

	want := []string{"A", "C", "A"}
	if got := matchedNames(e, req); !slices.Equal(got, want) {
		t.Errorf("matched = %v, want %v", got, want)
	}
	if got := matchedNames(e, req); !slices.Equal(got, want) {
		t.Errorf("second pass = %v, want %v", got, want)
	}
}

func TestMatchReturnsClones(t *testing.T) {
	e, err := NewEngine(enabled(config.Rule{
		Type: "FINAL", Action: "ECHO", RewriteHeader: "X-Id",
	}), true)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("X-Id", "1")

	first := e.Match(req)[0]
	if first == e.Rules()[0] {
		t.Fatal("Match must not hand out the canonical rule")
	}
	if _, _, err := first.Action().RewriteRequest(context.Background(), req); err != nil {
		t.Fatalf("RewriteRequest: %v", err)
	}

	second := e.Match(req)[0]
	resp := common.NewResponse(req, 200, "", "")
	if _, err := second.Action().RewriteResponse(context.Background(), resp); err != nil {
		t.Fatalf("RewriteResponse: %v", err)
	}
	if resp.Header.Get("X-Id") != "" {
		t.Error("capture leaked from one clone to another")
	}
}

type panicRule struct{ common.Rule }

func (panicRule) Name() string                 { return "panic" }
func (panicRule) Match(req *http.Request) bool { panic("boom") }

func TestMatchFailClosedOnPanic(t *testing.T) {
	ok, err := NewRule(&config.Rule{Name: "ok", Type: "FINAL", Action: "DIRECT"})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	e := &Engine{rules: []common.Rule{panicRule{}, ok}}

	got := matchedNames(e, httptest.NewRequest(http.MethodGet, "http://a.com/", nil))
	if !slices.Equal(got, []string{"ok"}) {
		t.Errorf("matched = %v, want [ok]", got)
	}
}

func TestMatchTypes(t *testing.T) {
	setFile := filepath.Join(t.TempDir(), "domains.txt")
	if err := os.WriteFile(setFile, []byte("# ads\nads.example.net\n.tracker.org\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		rule config.Rule
		req  func() *http.Request
		want bool
	}{
		{"Domain", config.Rule{Type: "DOMAIN", MatchValue: "Example.com"}, get("http://example.com:8080/"), true},
		{"DomainMiss", config.Rule{Type: "DOMAIN", MatchValue: "example.com"}, get("http://www.example.com/"), false},
		{"DomainSuffix", config.Rule{Type: "DOMAIN-SUFFIX", MatchValue: "example.com"}, get("http://a.b.example.com/"), true},
		{"DomainSuffixApex", config.Rule{Type: "DOMAIN-SUFFIX", MatchValue: ".example.com"}, get("http://example.com/"), true},
		{"DomainSuffixBoundary", config.Rule{Type: "DOMAIN-SUFFIX", MatchValue: "example.com"}, get("http://badexample.com/"), false},
		{"DomainKeyword", config.Rule{Type: "DOMAIN-KEYWORD", MatchValue: "ample"}, get("http://example.com/"), true},
		{"DomainSet", config.Rule{Type: "DOMAIN-SET", MatchValue: setFile}, get("http://cdn.ads.example.net/"), true},
		{"DomainSetApex", config.Rule{Type: "DOMAIN-SET", MatchValue: setFile}, get("http://ads.example.net/"), true},
		{"DomainSetSubOnly", config.Rule{Type: "DOMAIN-SET", MatchValue: setFile}, get("http://tracker.org/"), false},
		{"DomainSetSub", config.Rule{Type: "DOMAIN-SET", MatchValue: setFile}, get("http://x.tracker.org/"), true},
		{"HeaderKeyword", config.Rule{Type: "HEADER-KEYWORD", MatchHeader: "user-agent", MatchValue: "CURL"}, withHeader("User-Agent", "curl/8.0"), true},
		{"HeaderKeywordHost", config.Rule{Type: "HEADER-KEYWORD", MatchHeader: "Host", MatchValue: "example"}, get("http://example.com/"), true},
		{"HeaderRegex", config.Rule{Type: "HEADER-REGEX", MatchHeader: "User-Agent", MatchValue: `^curl/\d+`}, withHeader("User-Agent", "Curl/8.0"), true},
		{"HeaderRegexMissing", config.Rule{Type: "HEADER-REGEX", MatchHeader: "X-None", MatchValue: `.+`}, get("http://example.com/"), false},
		{"URLRegex", config.Rule{Type: "URL-REGEX", MatchValue: `^http://example\.com/api/.*\?v=2$`}, get("http://example.com/api/x?v=2"), true},
		{"Path", config.Rule{Type: "PATH", MatchValue: "/a"}, get("http://example.com/a?x=1"), true},
		{"PathMiss", config.Rule{Type: "PATH", MatchValue: "/a"}, get("http://example.com/a/b"), false},
		{"PathPrefix", config.Rule{Type: "PATH-PREFIX", MatchValue: "/a"}, get("http://example.com/a/b"), true},
		{"Method", config.Rule{Type: "METHOD", MatchValue: "post, put"}, method(http.MethodPut), true},
		{"MethodMiss", config.Rule{Type: "METHOD", MatchValue: "POST"}, get("http://example.com/"), false},
		{"SrcIP", config.Rule{Type: "SRC-IP", MatchValue: "192.0.2.0/24"}, get("http://example.com/"), true},
		{"SrcIPHost", config.Rule{Type: "SRC-IP", MatchValue: "192.0.2.1"}, get("http://example.com/"), true},
		{"SrcIPMiss", config.Rule{Type: "SRC-IP", MatchValue: "10.0.0.0/8"}, get("http://example.com/"), false},
		{"DestPort", config.Rule{Type: "DEST-PORT", MatchValue: "8443"}, get("https://example.com:8443/"), true},
		{"DestPortDefault", config.Rule{Type: "DEST-PORT", MatchValue: "443"}, get("https://example.com/"), true},
		{"Expr", config.Rule{Type: "EXPR", MatchValue: `method == "GET" && glob("*.example.com", host) && query["v"] == "2"`}, get("http://api.example.com/?v=2"), true},
		{"ExprHeaders", config.Rule{Type: "EXPR", MatchValue: `"x-debug" in headers && in_cidr(src_ip, "192.0.2.0/24")`}, withHeader("X-Debug", "1"), true},
		{"ExprPort", config.Rule{Type: "EXPR", MatchValue: `port == 80 && scheme == "http"`}, get("http://example.com/"), true},
		{"ExprRuntimeError", config.Rule{Type: "EXPR", MatchValue: `headers["missing"] == "x"`}, get("http://example.com/"), false},
		{"Final", config.Rule{Type: "FINAL"}, get("http://example.com/"), true},
		{"EmptyValueNeverMatches", config.Rule{Type: "DOMAIN-KEYWORD"}, get("http://example.com/"), false},
		{"EmptyExprNeverMatches", config.Rule{Type: "EXPR"}, get("http://example.com/"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.rule
			cfg.Action = "DIRECT"
			cfg.Normalize()
			r, err := NewRule(&cfg)
			if err != nil {
				t.Fatalf("NewRule: %v", err)
			}
			if got := r.Match(tt.req()); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvalidMatchValues(t *testing.T) {
	tests := []config.Rule{
		{Type: "HEADER-REGEX", MatchHeader: "A", MatchValue: "("},
		{Type: "SRC-IP", MatchValue: "not-an-ip"},
		{Type: "DEST-PORT", MatchValue: "70000"},
		{Type: "EXPR", MatchValue: `host + 1`},
		{Type: "EXPR", MatchValue: `host`},
		{Type: "DOMAIN-SET", MatchValue: "/does/not/exist"},
	}
	for _, cfg := range tests {
		t.Run(cfg.Type, func(t *testing.T) {
			cfg.Action = "DIRECT"
			if _, err := NewRule(&cfg); err == nil {
				t.Errorf("NewRule(%s %q) should fail", cfg.Type, cfg.MatchValue)
			}
		})
	}
}

func get(url string) func() *http.Request {
	return func() *http.Request {
		return httptest.NewRequest(http.MethodGet, url, nil)
	}
}

func method(m string) func() *http.Request {
	return func() *http.Request {
		return httptest.NewRequest(m, "http://example.com/", nil)
	}
}

func withHeader(k, v string) func() *http.Request {
	return func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		req.Header.Set(k, v)
		return req
	}
}
