package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/filter"
	"github.com/mitmrw/mitmrw/internal/mitm"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	t.Cleanup(viper.Reset)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const rulesYAML = `
rules:
  - name: block
    type: PATH-PREFIX
    match-value: /admin
    action: REJECT
  - name: curl
    type: HEADER-KEYWORD
    match-header: User-Agent
    match-value: curl
    action: DELETE
    rewrite-header: Server
`

func TestRulesCheck(t *testing.T) {
	resetViper(t)
	var stdout, stderr bytes.Buffer
	rulesCheckCmd.SetOut(&stdout)
	rulesCheckCmd.SetErr(&stderr)

	if err := runRulesCheck(rulesCheckCmd, []string{writeFile(t, rulesYAML)}); err != nil {
		t.Fatalf("runRulesCheck: %v", err)
	}
	dec := json.NewDecoder(&stdout)
	var names []string
	for dec.More() {
		var r struct {
			Name string `json:"name"`
		}
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "block,curl" {
		t.Errorf("names = %v", names)
	}
	if !strings.Contains(stderr.String(), "2 rules OK") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRulesCheckInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"BadRegex", `
rules:
  - type: URL-REGEX
    match-value: "(["
    action: DIRECT
`},
		{"UnknownType", `
rules:
  - type: NOPE
    action: DIRECT
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			rulesCheckCmd.SetOut(&bytes.Buffer{})
			rulesCheckCmd.SetErr(&bytes.Buffer{})
			if err := runRulesCheck(rulesCheckCmd, []string{writeFile(t, tt.yaml)}); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestRulesMatch(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(writeFile(t, rulesYAML))
	if err := viper.MergeInConfig(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { matchHeaders = nil })

	tests := []struct {
		name    string
		url     string
		headers []string
		want    string
	}{
		{"Path", "http://example.com/admin/x", nil, `"name": "block"`},
		{"Header", "http://example.com/", []string{"User-Agent: curl/8.0"}, `"name": "curl"`},
		{"None", "http://example.com/", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			rulesMatchCmd.SetOut(&stdout)
			rulesMatchCmd.SetErr(&bytes.Buffer{})
			matchMethod = "GET"
			matchHeaders = tt.headers

			if err := runRulesMatch(rulesMatchCmd, []string{tt.url}); err != nil {
				t.Fatalf("runRulesMatch: %v", err)
			}
			if tt.want == "" {
				if stdout.Len() != 0 {
					t.Errorf("stdout = %q, want empty", stdout.String())
				}
				return
			}
			if !strings.Contains(stdout.String(), tt.want) {
				t.Errorf("stdout = %q, want %s", stdout.String(), tt.want)
			}
		})
	}
}

func TestRulesMatchBadHeader(t *testing.T) {
	resetViper(t)
	t.Cleanup(func() { matchHeaders = nil })
	matchHeaders = []string{"no-colon"}
	rulesMatchCmd.SetOut(&bytes.Buffer{})
	rulesMatchCmd.SetErr(&bytes.Buffer{})
	if err := runRulesMatch(rulesMatchCmd, []string{"http://example.com/"}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCertGenerateAndExport(t *testing.T) {
	resetViper(t)
	t.Cleanup(func() {
		certPassphrase, certP12Base64, certOutputFile = "", "", ""
	})

	var generated bytes.Buffer
	certGenerateCmd.SetOut(&generated)
	certGenerateCmd.SetErr(&bytes.Buffer{})
	certPassphrase = "pw"
	certOutputFile = filepath.Join(t.TempDir(), "ca.pem")
	if err := runCertGenerate(certGenerateCmd, nil); err != nil {
		t.Fatalf("runCertGenerate: %v", err)
	}
	written, err := os.ReadFile(certOutputFile)
	if err != nil {
		t.Fatal(err)
	}

	// Export reads the CA from the config when no flag is given.
	viper.Set("mitm.ca-p12", strings.TrimSpace(generated.String()))
	viper.Set("mitm.ca-passphrase", "pw")
	certPassphrase, certOutputFile = "", ""

	var exported bytes.Buffer
	certExportCmd.SetOut(&exported)
	if err := runCertExport(certExportCmd, nil); err != nil {
		t.Fatalf("runCertExport: %v", err)
	}
	if !bytes.Equal(exported.Bytes(), written) {
		t.Error("exported PEM differs from the generated one")
	}

	ca, err := mitm.LoadCA(strings.TrimSpace(generated.String()), "pw")
	if err != nil {
		t.Fatalf("LoadCA: %v", err)
	}
	if !ca.Certificate.IsCA {
		t.Error("generated certificate is not a CA")
	}
}

func TestCertExportWithoutCA(t *testing.T) {
	resetViper(t)
	certExportCmd.SetOut(&bytes.Buffer{})
	if err := runCertExport(certExportCmd, nil); err == nil {
		t.Fatal("expected an error without a CA")
	}
}

func TestNewFilterHonorsHostnamesWithoutMitM(t *testing.T) {
	tests := []struct {
		name   string
		mitm   config.MitMConfig
		dest   string
		tunnel bool
	}{
		{"ListedHost", config.MitMConfig{Hostname: []string{"*.example.com:0"}}, "a.example.com:80", true},
		{"UnlistedHost", config.MitMConfig{Hostname: []string{"*.example.com:0"}}, "other.org:80", false},
		{"EmptyListDenies", config.MitMConfig{}, "other.org:80", false},
		{"EmptyListDefaultAllow", config.MitMConfig{DefaultAllow: true}, "other.org:80", true},
		{"ListedHostWithMitM", config.MitMConfig{Enabled: true, Hostname: []string{"*.example.com"}}, "a.example.com:443", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(&config.Config{MitM: tt.mitm})
			ctx := context.Background()

			connect := httptest.NewRequest(http.MethodConnect, tt.dest, nil)
			if got := f.Eligible(ctx, filter.ConnInfoFromRequest(connect), connect); got != tt.tunnel {
				t.Errorf("CONNECT %s eligible = %v, want %v", tt.dest, got, tt.tunnel)
			}
			plain := httptest.NewRequest(http.MethodGet, "http://"+tt.dest+"/", nil)
			if !f.Eligible(ctx, filter.ConnInfoFromRequest(plain), plain) {
				t.Errorf("absolute-form request to %s should always be eligible", tt.dest)
			}
		})
	}
}
