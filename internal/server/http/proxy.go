package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/filter"
	"github.com/mitmrw/mitmrw/internal/log"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// handleHTTP serves an absolute-form proxy request.
func (s *Server) handleHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Host == "" {
		http.Error(w, "this is a proxy, send absolute-form requests", http.StatusBadRequest)
		return
	}
	req.RequestURI = ""
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
	}

	record := s.connOpened(ModeHTTP, req.RemoteAddr, common.DestAddr(req))
	defer s.connClosed(record)

	ctx := req.Context()
	var resp *http.Response
	if s.filter.Eligible(ctx, filter.ConnInfoFromRequest(req), req) {
		resp = s.exchange(ctx, req)
	} else {
		resp = s.forward(ctx, req)
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopHeaders(resp.Header)
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.LogDebugWithAddr(req.RemoteAddr, common.DestAddr(req), "copy response body: "+err.Error())
	}
}

// exchange runs one request/response pair through a handler session. It
// always returns a response for the client.
func (s *Server) exchange(ctx context.Context, req *http.Request) *http.Response {
	src, dest := common.SrcAddr(req), common.DestAddr(req)
	sess := s.handler.NewSession()

	out, resp, err := sess.HandleRequest(ctx, req)
	if err != nil {
		log.LogWarnWithAddr(src, dest, "request phase aborted: "+err.Error())
		return common.ErrorResponse(req, http.StatusBadGateway)
	}
	if resp == nil {
		resp = s.roundTrip(ctx, out)
	}

	final, err := sess.HandleResponse(ctx, resp)
	if err != nil {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		log.LogWarnWithAddr(src, dest, "response phase aborted: "+err.Error())
		return common.ErrorResponse(req, http.StatusBadGateway)
	}
	return final
}

// forward sends a request upstream without any session.
func (s *Server) forward(ctx context.Context, req *http.Request) *http.Response {
	return s.roundTrip(ctx, req)
}

// roundTrip calls the upstream once. Failures become a 502 so the response
// phase still sees an answer.
func (s *Server) roundTrip(ctx context.Context, req *http.Request) *http.Response {
	removeHopHeaders(req.Header)
	resp, err := s.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "Upstream request failed",
			slog.String("src", common.SrcAddr(req)),
			slog.String("dest", common.DestAddr(req)),
			slog.Any("error", err))
		return common.ErrorResponse(req, http.StatusBadGateway)
	}
	return resp
}
