package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/mitmrw/mitmrw/internal/config"
	applog "github.com/mitmrw/mitmrw/internal/log"
	"github.com/mitmrw/mitmrw/internal/metrics"
	"github.com/mitmrw/mitmrw/internal/rule"
	"github.com/mitmrw/mitmrw/internal/statistics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRules(t *testing.T) *rule.Engine {
	t.Helper()
	engine, err := rule.NewEngine([]config.Rule{
		{Enabled: true, Name: "req", Type: "FINAL", Action: "ADD", RewriteHeader: "X-A", RewriteValue: "1", RewriteDirection: "REQUEST"},
		{Enabled: true, Name: "resp", Type: "FINAL", Action: "DELETE", RewriteHeader: "Server", RewriteDirection: "RESPONSE"},
		{Enabled: true, Name: "both", Type: "FINAL", Action: "ECHO", RewriteHeader: "X-Id", RewriteValue: "X-Id"},
	}, true)
	if err != nil {
		t.Fatalf("rule.NewEngine: %v", err)
	}
	return engine
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	ts := httptest.NewServer(New("v1.2.3", cfg, testRules(t), opts...).Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, header http.Header, out any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestVersionAndConfig(t *testing.T) {
	cfg := &config.Config{ListenAddr: "127.0.0.1:8080", LogLevel: "info", APIServerSecret: ""}
	ts := newTestServer(t, cfg)

	var version map[string]string
	if code := getJSON(t, ts.URL+"/version", nil, &version); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if version["version"] != "v1.2.3" {
		t.Errorf("version = %v", version)
	}

	var got map[string]any
	getJSON(t, ts.URL+"/config", nil, &got)
	if got["listen_addr"] != "127.0.0.1:8080" {
		t.Errorf("listen_addr = %v", got["listen_addr"])
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, &config.Config{APIServerSecret: "s3cret"})

	tests := []struct {
		name   string
		path   string
		header http.Header
		want   int
	}{
		{"NoToken", "/version", nil, http.StatusUnauthorized},
		{"WrongToken", "/version", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"Bearer", "/version", http.Header{"Authorization": {"Bearer s3cret"}}, http.StatusOK},
		{"RawHeader", "/version", http.Header{"Authorization": {"s3cret"}}, http.StatusOK},
		{"Query", "/version?secret=s3cret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getJSON(t, ts.URL+tt.path, tt.header, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfigHidesSecrets(t *testing.T) {
	ts := newTestServer(t, &config.Config{
		APIServerSecret: "s3cret",
		MitM:            config.MitMConfig{CAP12: "blob", CAPassphrase: "pass"},
	})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/config", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	for _, secret := range []string{"s3cret", "blob", "pass"} {
		if strings.Contains(string(body), `"`+secret+`"`) {
			t.Errorf("config leaks %q: %s", secret, body)
		}
	}
}

func TestRules(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path string
		want []string
	}{
		{"/rules", []string{"req", "resp", "both"}},
		{"/rules/request", []string{"req", "both"}},
		{"/rules/response", []string{"resp", "both"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var rules []struct {
				Name   string         `json:"name"`
				Type   string         `json:"type"`
				Action map[string]any `json:"action"`
			}
			if code := getJSON(t, ts.URL+tt.path, nil, &rules); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			var names []string
			for _, r := range rules {
				names = append(names, r.Name)
				if r.Type != "FINAL" || r.Action["type"] == nil {
					t.Errorf("rule %s = %+v", r.Name, r)
				}
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	recorder := &statistics.Recorder{
		RewriteRecordList:    statistics.NewRewriteRecordList(filepath.Join(dir, "rewrite")),
		ResponseRecordList:   statistics.NewResponseRecordList(filepath.Join(dir, "response")),
		ConnectionRecordList: statistics.NewConnectionRecordList(filepath.Join(dir, "conn")),
	}
	recorder.RewriteRecordList.Add(&statistics.RewriteRecord{Host: "a.com", Rule: "tag"})
	recorder.ResponseRecordList.Add(&statistics.ResponseRecord{Host: "a.com", Status: 200, ContentType: "text/html"})
	recorder.ConnectionRecordList.Add(&statistics.ConnectionRecord{Mode: "mitm", SrcAddr: "1.1.1.1:1", DestAddr: "a.com:443", StartTime: time.Now()})

	ts := newTestServer(t, nil, WithRecorder(recorder))

	var all map[string][]map[string]any
	if code := getJSON(t, ts.URL+"/stats", nil, &all); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, key := range []string{"rewrite", "responses", "connections"} {
		if len(all[key]) != 1 {
			t.Errorf("%s = %v", key, all[key])
		}
	}

	var rewrite []statistics.RewriteRecord
	getJSON(t, ts.URL+"/stats/rewrite", nil, &rewrite)
	if len(rewrite) != 1 || rewrite[0].Rule != "tag" || rewrite[0].Count != 1 {
		t.Errorf("rewrite = %+v", rewrite)
	}
	var conns []statistics.ConnectionRecord
	getJSON(t, ts.URL+"/stats/connections", nil, &conns)
	if len(conns) != 1 || conns[0].Mode != "mitm" {
		t.Errorf("connections = %+v", conns)
	}
}

func TestStatsDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/stats", "/stats/rewrite", "/stats/responses", "/stats/connections"} {
		if code := getJSON(t, ts.URL+path, nil, nil); code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, code)
		}
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.ExchangesTotal.WithLabelValues(metrics.OutcomeForwarded).Add(3)

	ts := newTestServer(t, nil, WithGatherer(reg))
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `mitmrw_exchanges_total{outcome="forwarded"} 3`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}

func TestMetricsAndLogsAbsentWithoutSources(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/metrics", "/logs"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestLogsWebSocket(t *testing.T) {
	lb := applog.NewBroadcaster()
	ts := newTestServer(t, nil, WithLogBroadcaster(lb))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/logs?level=info"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(3 * time.Second)
	for lb.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no subscriber attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, _ = lb.Write([]byte("time=now level=DEBUG msg=hidden\n"))
	_, _ = lb.Write([]byte("time=now level=INFO msg=hello\n"))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "time=now level=INFO msg=hello" {
		t.Errorf("message = %q", msg)
	}
}

func TestLineLevel(t *testing.T) {
	tests := []struct {
		line string
		want slog.Level
	}{
		{"time=x level=DEBUG msg=a", slog.LevelDebug},
		{"time=x level=WARN msg=a", slog.LevelWarn},
		{"time=x level=ERROR msg=a", slog.LevelError},
		{"time=x level=INFO+2 msg=a", slog.LevelInfo + 2},
		{"no level here", slog.LevelInfo},
		{"level=bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := lineLevel([]byte(tt.line)); got != tt.want {
			t.Errorf("lineLevel(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
