package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/filter"
	"github.com/mitmrw/mitmrw/internal/handler"
	"github.com/mitmrw/mitmrw/internal/metrics"
	"github.com/mitmrw/mitmrw/internal/mitm"
	"github.com/mitmrw/mitmrw/internal/statistics"
)

const (
	ModeHTTP   = "http"
	ModeMitM   = "mitm"
	ModeTunnel = "tunnel"
)

const (
	dialTimeout       = 10 * time.Second
	sniffTimeout      = 5 * time.Second
	handshakeTimeout  = 10 * time.Second
	readHeaderTimeout = 30 * time.Second
	passThroughTTL    = 10 * time.Minute
	passThroughSize   = 4096
)

// Server is an HTTP proxy. Absolute-form requests and CONNECT tunnels that
// pass the filter run through handler sessions; everything else is relayed
// untouched.
type Server struct {
	cfg       *config.Config
	handler   *handler.Handler
	filter    filter.Filter
	middleMan *mitm.MiddleMan
	recorder  *statistics.Recorder
	metrics   *metrics.Metrics

	transport *http.Transport
	dialer    *net.Dialer
	// passThrough holds destinations that could not be intercepted
	// recently; CONNECTs to them are tunnelled without sniffing.
	passThrough *expirable.LRU[string, struct{}]

	srv      *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
}

type Option func(*Server)

func WithFilter(f filter.Filter) Option {
	return func(s *Server) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithMiddleMan enables TLS interception of CONNECT tunnels.
func WithMiddleMan(m *mitm.MiddleMan) Option {
	return func(s *Server) {
		s.middleMan = m
	}
}

func WithRecorder(r *statistics.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func New(cfg *config.Config, h *handler.Handler, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		handler:     h,
		filter:      filter.AllowAll,
		dialer:      &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second},
		passThrough: expirable.NewLRU[string, struct{}](passThroughSize, nil, passThroughTTL),
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.MitM.InsecureSkipVerify}
	if s.middleMan != nil {
		tlsConfig = s.middleMan.UpstreamTLSConfig()
	}
	s.transport = &http.Transport{
		Proxy:                 nil,
		DialContext:           s.dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   handshakeTimeout,
		DisableCompression:    true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
	}

	slog.Info("HTTP proxy listening", slog.String("addr", listener.Addr().String()),
		slog.Bool("mitm", s.middleMan != nil))
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("s.srv.Serve", slog.Any("error", err))
		}
	}()
	return nil
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, tears down hijacked connections and waits for
// their goroutines.
func (s *Server) Close() error {
	s.cancel()
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.transport.CloseIdleConnections()
	return err
}

// track registers a hijacked connection so Close can reach it. It returns
// false once the server is closing.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		s.handleConnect(w, req)
		return
	}
	s.handleHTTP(w, req)
}

func (s *Server) connOpened(mode, src, dest string) *statistics.ConnectionRecord {
	record := &statistics.ConnectionRecord{
		Mode:      mode,
		SrcAddr:   src,
		DestAddr:  dest,
		StartTime: time.Now(),
	}
	if s.recorder != nil {
		s.recorder.AddConnection(record)
	}
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.WithLabelValues(mode).Inc()
		s.metrics.ActiveConnections.Inc()
	}
	return record
}

func (s *Server) connClosed(record *statistics.ConnectionRecord) {
	if s.recorder != nil {
		s.recorder.RemoveConnection(record)
	}
	if s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}
}
