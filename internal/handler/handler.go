package handler

import (
	"errors"
	"net/http"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/metrics"
)

var (
	// ErrInvalidState is returned when a phase is run out of order or twice.
	ErrInvalidState = errors.New("handler: invalid session state")
	// ErrMissingURI is returned when the response phase finds no recorded
	// request URI.
	ErrMissingURI = errors.New("handler: missing request uri")
	// ErrTransformPanic wraps a panic raised by a rule transform.
	ErrTransformPanic = errors.New("handler: rule transform panicked")
)

// Matcher yields the ordered rules that accept a request. Returned rules
// must be owned by the caller.
type Matcher interface {
	Match(req *http.Request) []common.Rule
}

// Handler creates sessions sharing one matcher, sink and policy. It holds
// no per-exchange state and is safe for concurrent use.
type Handler struct {
	matcher Matcher
	sink    Sink
	policy  config.ShortCircuitPolicy
	metrics *metrics.Metrics
}

type Option func(*Handler)

func WithSink(sink Sink) Option {
	return func(h *Handler) {
		if sink != nil {
			h.sink = sink
		}
	}
}

// WithPolicy selects which recorded rules see a synthetic response.
func WithPolicy(policy config.ShortCircuitPolicy) Option {
	return func(h *Handler) {
		if policy != "" {
			h.policy = policy
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(matcher Matcher, opts ...Option) *Handler {
	h := &Handler{
		matcher: matcher,
		sink:    LogSink{},
		policy:  config.ShortCircuitSkipOwner,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewSession starts the state of one exchange.
func (h *Handler) NewSession() *Session {
	return newSession(h)
}

func (h *Handler) Policy() config.ShortCircuitPolicy {
	return h.policy
}
