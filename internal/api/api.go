package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
	applog "github.com/mitmrw/mitmrw/internal/log"
	"github.com/mitmrw/mitmrw/internal/statistics"
)

// RuleSource exposes the compiled rule set.
type RuleSource interface {
	Rules() []common.Rule
}

type APIServer struct {
	version        string
	cfg            *config.Config
	rules          RuleSource
	recorder       *statistics.Recorder
	gatherer       prometheus.Gatherer
	logBroadcaster *applog.Broadcaster

	listener   net.Listener
	httpServer *http.Server
}

type Option func(*APIServer)

func WithRecorder(r *statistics.Recorder) Option {
	return func(s *APIServer) {
		s.recorder = r
	}
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *APIServer) {
		s.gatherer = g
	}
}

func WithLogBroadcaster(lb *applog.Broadcaster) Option {
	return func(s *APIServer) {
		s.logBroadcaster = lb
	}
}

func New(version string, cfg *config.Config, rules RuleSource, opts ...Option) *APIServer {
	s := &APIServer{
		version: version,
		cfg:     cfg,
		rules:   rules,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the admin routes.
func (s *APIServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if s.cfg.APIServerSecret != "" {
		r.Use(s.authMiddleware)
	}

	r.Get("/version", s.handleVersion)
	r.Get("/config", s.handleConfig)

	r.Get("/rules", s.handleRules)
	r.Get("/rules/request", s.handleRequestRules)
	r.Get("/rules/response", s.handleResponseRules)

	r.Get("/stats", s.handleStats)
	r.Get("/stats/rewrite", s.handleRewriteStats)
	r.Get("/stats/responses", s.handleResponseStats)
	r.Get("/stats/connections", s.handleConnectionStats)

	if s.logBroadcaster != nil {
		r.Get("/logs", s.handleLogs)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.Handle("/goroutine", pprof.Handler("goroutine"))
		r.Handle("/heap", pprof.Handler("heap"))
		r.Handle("/allocs", pprof.Handler("allocs"))
		r.Handle("/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/block", pprof.Handler("block"))
		r.Handle("/mutex", pprof.Handler("mutex"))
	})
	return r
}

func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.APIServer)
	if err != nil {
		return fmt.Errorf("api-server listen failed: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("api-server started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api-server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *APIServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down. Log streams are cut off when the grace
// period ends.
func (s *APIServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("api-server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("api-server request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIServerSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
