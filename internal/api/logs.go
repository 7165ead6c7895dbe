package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	applog "github.com/mitmrw/mitmrw/internal/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogs streams log lines as they are written. WebSocket clients get
// one text message per line, plain HTTP clients a flushed text/plain body.
// The optional level query parameter drops lines below that level.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	minLevel := slog.LevelDebug
	if lv := r.URL.Query().Get("level"); lv != "" {
		minLevel = applog.ParseLevel(lv)
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleLogsWS(w, r, minLevel)
		return
	}
	s.handleLogsHTTP(w, r, minLevel)
}

func (s *APIServer) handleLogsWS(w http.ResponseWriter, r *http.Request, minLevel slog.Level) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	// Client frames are discarded; reading only notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if lineLevel(msg) < minLevel {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(msg, "\n")); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *APIServer) handleLogsHTTP(w http.ResponseWriter, r *http.Request, minLevel slog.Level) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if lineLevel(msg) < minLevel {
				continue
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// lineLevel reads the level=... attribute of a text handler line. Lines
// without one count as info.
func lineLevel(line []byte) slog.Level {
	i := bytes.Index(line, []byte("level="))
	if i < 0 {
		return slog.LevelInfo
	}
	rest := line[i+len("level="):]
	if j := bytes.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	var level slog.Level
	if err := level.UnmarshalText(bytes.TrimSpace(rest)); err != nil {
		return slog.LevelInfo
	}
	return level
}
