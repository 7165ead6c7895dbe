package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/metrics"
)

type State int

const (
	StateIdle State = iota
	StateMatching
	StateApplying
	StateForwarding
	StateShortCircuited
	StateResponding
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMatching:
		return "matching"
	case StateApplying:
		return "applying"
	case StateForwarding:
		return "forwarding"
	case StateShortCircuited:
		return "short-circuited"
	case StateResponding:
		return "responding"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Session is the state of one request/response exchange. The rules
// matched in the request phase are the only rules, in the same order,
// that see the response. A Session is not safe for concurrent use and
// must not be reused.
type Session struct {
	h *Handler

	id             string
	state          State
	uri            *url.URL
	rules          []common.Rule
	modifyResponse bool
	owner          int
	failed         bool
	start          time.Time
}

func newSession(h *Handler) *Session {
	return &Session{
		h:     h,
		id:    uuid.NewString(),
		state: StateIdle,
		owner: -1,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.state
}

// URI returns the request URI recorded by the request phase.
func (s *Session) URI() *url.URL {
	return s.uri
}

// Rules returns the rules matched by the request phase, in match order.
func (s *Session) Rules() []common.Rule {
	return append([]common.Rule(nil), s.rules...)
}

func (s *Session) ModifyResponse() bool {
	return s.modifyResponse
}

// Owner returns the index of the rule that short-circuited the exchange,
// or -1.
func (s *Session) Owner() int {
	return s.owner
}

// HandleRequest strips Accept-Encoding, records the URI, matches the rules
// and folds the request through them in order. It returns either the
// request to forward upstream or a synthetic response for the client; a
// failing rule yields a 502 response. The only error returns are
// ErrInvalidState and ctx.Err().
func (s *Session) HandleRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error) {
	if s.state != StateIdle {
		return nil, nil, ErrInvalidState
	}
	s.start = time.Now()
	s.state = StateMatching

	req.Header.Del("Accept-Encoding")
	s.uri = requestURI(req)
	s.rules = s.h.matcher.Match(req)
	s.modifyResponse = len(s.rules) > 0
	s.observeMatches()

	s.state = StateApplying
	for i, r := range s.rules {
		if err := ctx.Err(); err != nil {
			s.finishRequest(metrics.OutcomeCanceled)
			s.observeDuration()
			s.state = StateDone
			return nil, nil, err
		}

		next, resp, err := rewriteRequest(ctx, r.Action(), req)
		if err != nil {
			slog.Error("Rule request rewrite failed",
				slog.String("id", s.id),
				slog.String("rule", r.Name()),
				slog.String("src", common.SrcAddr(req)),
				slog.String("dest", common.DestAddr(req)),
				slog.Any("error", err))
			s.failed = true
			s.state = StateShortCircuited
			s.finishRequest(metrics.OutcomeFailed)
			return req, common.ErrorResponse(req, http.StatusBadGateway), nil
		}
		if next != nil {
			req = next
		}
		if resp != nil {
			s.owner = i
			s.state = StateShortCircuited
			s.finishRequest(metrics.OutcomeShortCircuited)
			slog.Debug("Exchange short-circuited",
				slog.String("id", s.id),
				slog.String("rule", r.Name()),
				slog.Int("status", resp.StatusCode))
			return req, resp, nil
		}
	}

	s.state = StateForwarding
	s.finishRequest(metrics.OutcomeForwarded)
	return req, nil, nil
}

// HandleResponse folds the response, upstream or synthetic, through the
// recorded rules and emits one Record to the sink first. Without recorded
// rules the response is returned untouched and nothing is recorded. A
// failing transform turns the response into a 502.
func (s *Session) HandleResponse(ctx context.Context, resp *http.Response) (*http.Response, error) {
	if s.state != StateForwarding && s.state != StateShortCircuited {
		return nil, ErrInvalidState
	}
	s.state = StateResponding
	defer func() {
		s.observeDuration()
		s.state = StateDone
	}()

	if s.failed {
		return resp, nil
	}
	rules := s.responseRules()
	if !s.modifyResponse || len(rules) == 0 {
		return resp, nil
	}
	if s.uri == nil {
		return nil, ErrMissingURI
	}

	s.h.sink.Record(ctx, s.record(resp, rules))

	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := rewriteResponse(ctx, r.Action(), resp)
		if err != nil {
			req := common.RequestOf(resp)
			slog.Error("Rule response rewrite failed",
				slog.String("id", s.id),
				slog.String("rule", r.Name()),
				slog.String("src", common.SrcAddr(req)),
				slog.String("dest", common.DestAddr(req)),
				slog.Any("error", err))
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return common.ErrorResponse(req, http.StatusBadGateway), nil
		}
		if next != nil {
			resp = next
		}
	}

	if s.h.metrics != nil {
		s.h.metrics.ResponseTransforms.Inc()
	}
	return resp, nil
}

// responseRules applies the short-circuit policy to the recorded rules.
func (s *Session) responseRules() []common.Rule {
	if s.owner < 0 {
		return s.rules
	}
	switch s.h.policy {
	case config.ShortCircuitAll:
		return s.rules
	case config.ShortCircuitNone:
		return nil
	default:
		rules := make([]common.Rule, 0, len(s.rules)-1)
		rules = append(rules, s.rules[:s.owner]...)
		return append(rules, s.rules[s.owner+1:]...)
	}
}

func (s *Session) record(resp *http.Response, rules []common.Rule) Record {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name()
	}
	return Record{
		ID:          s.id,
		Status:      resp.StatusCode,
		Host:        s.uri.Hostname(),
		ContentType: headerText(resp.Header.Get("Content-Type")),
		Rules:       names,
	}
}

func (s *Session) observeMatches() {
	if s.h.metrics == nil {
		return
	}
	for _, r := range s.rules {
		s.h.metrics.RuleMatches.WithLabelValues(string(r.Type())).Inc()
	}
}

func (s *Session) finishRequest(outcome string) {
	if s.h.metrics == nil {
		return
	}
	s.h.metrics.ExchangesTotal.WithLabelValues(outcome).Inc()
}

// observeDuration records the time from the start of the request phase,
// upstream round trip included, to the end of the exchange.
func (s *Session) observeDuration() {
	if s.h.metrics == nil {
		return
	}
	s.h.metrics.ExchangeDuration.Observe(time.Since(s.start).Seconds())
}

// rewriteRequest runs a request transform, turning a panic into an error.
func rewriteRequest(ctx context.Context, a common.Action, req *http.Request) (next *http.Request, resp *http.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			next, resp, err = nil, nil, fmt.Errorf("%w: %v", ErrTransformPanic, p)
		}
	}()
	return a.RewriteRequest(ctx, req)
}

// rewriteResponse runs a response transform, turning a panic into an error.
func rewriteResponse(ctx context.Context, a common.Action, resp *http.Response) (next *http.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			next, err = nil, fmt.Errorf("%w: %v", ErrTransformPanic, p)
		}
	}()
	return a.RewriteResponse(ctx, resp)
}

// requestURI copies the request URL, filling the host from the Host
// header when the request line carried only a path.
func requestURI(req *http.Request) *url.URL {
	if req.URL == nil {
		if req.Host == "" {
			return nil
		}
		return &url.URL{Scheme: common.Scheme(req), Host: req.Host, Path: "/"}
	}
	u := *req.URL
	if u.Host == "" {
		u.Host = req.Host
	}
	if u.Scheme == "" {
		u.Scheme = common.Scheme(req)
	}
	return &u
}

// headerText returns v, or "unknown" when it is empty or not printable
// ASCII.
func headerText(v string) string {
	if v == "" {
		return "unknown"
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c > 0x7e {
			return "unknown"
		}
	}
	return v
}
