package api

import (
	"encoding/json"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/statistics"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
	})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *APIServer) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filterRules(nil))
}

func (s *APIServer) handleRequestRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filterRules(func(d common.Direction) bool {
		return d != common.DirectionResponse
	}))
}

func (s *APIServer) handleResponseRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filterRules(func(d common.Direction) bool {
		return d != common.DirectionRequest
	}))
}

// filterRules returns the rules whose action direction passes keep, or
// all of them when keep is nil.
func (s *APIServer) filterRules(keep func(common.Direction) bool) []common.Rule {
	rules := []common.Rule{}
	if s.rules == nil {
		return rules
	}
	for _, rule := range s.rules.Rules() {
		if keep == nil || keep(rule.Action().Direction()) {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "statistics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rewrite":     s.recorder.RewriteRecordList.Snapshot(),
		"responses":   s.recorder.ResponseRecordList.Snapshot(),
		"connections": s.recorder.ConnectionRecordList.Snapshot(),
	})
}

func (s *APIServer) handleRewriteStats(w http.ResponseWriter, r *http.Request) {
	s.writeSnapshot(w, func(rec *statistics.Recorder) any { return rec.RewriteRecordList.Snapshot() })
}

func (s *APIServer) handleResponseStats(w http.ResponseWriter, r *http.Request) {
	s.writeSnapshot(w, func(rec *statistics.Recorder) any { return rec.ResponseRecordList.Snapshot() })
}

func (s *APIServer) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	s.writeSnapshot(w, func(rec *statistics.Recorder) any { return rec.ConnectionRecordList.Snapshot() })
}

func (s *APIServer) writeSnapshot(w http.ResponseWriter, snapshot func(*statistics.Recorder) any) {
	if s.recorder == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "statistics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot(s.recorder))
}
