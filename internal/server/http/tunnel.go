package http

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/filter"
	"github.com/mitmrw/mitmrw/internal/log"
	"github.com/mitmrw/mitmrw/internal/sniff"
)

const (
	readerSize = 64 * 1024
	// maxDrainBody bounds how much of an unread request body is discarded
	// to keep a connection alive.
	maxDrainBody = 256 * 1024
)

// handleConnect hijacks a CONNECT request and decides, from the first
// bytes the client sends, whether the tunnel is intercepted or relayed.
func (s *Server) handleConnect(w http.ResponseWriter, req *http.Request) {
	destAddr := req.Host
	if _, _, err := net.SplitHostPort(destAddr); err != nil {
		destAddr = net.JoinHostPort(destAddr, "443")
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !s.track(client) {
		_ = client.Close()
		return
	}
	defer s.untrack(client)
	defer func() { _ = client.Close() }()

	srcAddr := client.RemoteAddr().String()
	log.LogDebugWithAddr(srcAddr, destAddr, "HTTP CONNECT request")

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		log.LogWarnWithAddr(srcAddr, destAddr, "write CONNECT response: "+err.Error())
		return
	}

	reader := bufio.NewReaderSize(client, readerSize)
	if n := rw.Reader.Buffered(); n > 0 {
		// Bytes the client pipelined behind the CONNECT request.
		buffered, _ := rw.Reader.Peek(n)
		reader = bufio.NewReaderSize(io.MultiReader(bytes.NewReader(bytes.Clone(buffered)), client), readerSize)
	}

	if s.passThrough.Contains(destAddr) {
		log.LogDebugWithAddr(srcAddr, destAddr, "destination in pass-through cache")
		s.tunnel(client, reader, destAddr)
		return
	}

	_ = client.SetReadDeadline(time.Now().Add(sniffTimeout))
	proto, info, err := sniff.Sniff(reader)
	_ = client.SetReadDeadline(time.Time{})
	if err != nil {
		log.LogDebugWithAddr(srcAddr, destAddr, "sniff: "+err.Error())
		proto = sniff.TCP
	}

	conn := filter.ConnInfo{SrcAddr: srcAddr, DestAddr: destAddr, Port: portOf(destAddr)}
	if info != nil {
		conn.ServerName = info.ServerName
	}

	switch {
	case proto == sniff.TLS && s.middleMan != nil && s.filter.Eligible(s.ctx, conn, req):
		s.interceptTLS(client, reader, conn)
	case proto == sniff.HTTP && s.filter.Eligible(s.ctx, conn, req):
		record := s.connOpened(ModeMitM, srcAddr, destAddr)
		defer s.connClosed(record)
		s.serveRequests(client, reader, "http", destAddr)
	default:
		if proto == sniff.TCP {
			s.passThrough.Add(destAddr, struct{}{})
		}
		s.tunnel(client, reader, destAddr)
	}
}

func (s *Server) interceptTLS(client net.Conn, reader *bufio.Reader, conn filter.ConnInfo) {
	serverName := conn.Host()
	ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
	defer cancel()

	tlsConn, err := s.middleMan.Accept(ctx, client, reader, serverName)
	if err != nil {
		// Usually a client that pins or does not trust the CA.
		s.passThrough.Add(conn.DestAddr, struct{}{})
		log.LogWarnWithAddr(conn.SrcAddr, conn.DestAddr, fmt.Sprintf("MitM handshake failed, tunnelling from now on: %v", err))
		return
	}
	defer func() { _ = tlsConn.Close() }()

	log.LogInfoWithAddr(conn.SrcAddr, conn.DestAddr, "MitM: intercepting HTTPS to "+serverName)
	record := s.connOpened(ModeMitM, conn.SrcAddr, conn.DestAddr)
	defer s.connClosed(record)

	s.serveRequests(tlsConn, bufio.NewReaderSize(tlsConn, readerSize), "https", conn.DestAddr)
}

// serveRequests reads requests off an intercepted client stream and
// answers each through a handler session until the stream ends.
func (s *Server) serveRequests(conn net.Conn, reader *bufio.Reader, scheme, destAddr string) {
	srcAddr := conn.RemoteAddr().String()
	var tlsState *tls.ConnectionState
	if tc, ok := conn.(*tls.Conn); ok {
		state := tc.ConnectionState()
		tlsState = &state
	}

	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.LogDebugWithAddr(srcAddr, destAddr, "http.ReadRequest: "+err.Error())
			}
			return
		}
		req.RemoteAddr = srcAddr
		req.RequestURI = ""
		req.URL.Scheme = scheme
		req.URL.Host = destAddr
		req.TLS = tlsState
		if req.Host == "" {
			req.Host = destAddr
		}

		if sniff.IsWebSocketUpgrade(req.Header) {
			s.upgrade(conn, reader, req, scheme, destAddr)
			return
		}

		body := req.Body
		resp := s.exchange(s.ctx, req)
		if !drainBody(req, body) {
			resp.Close = true
		}
		err = writeResponse(conn, resp)
		if err != nil {
			log.LogDebugWithAddr(srcAddr, destAddr, "write response: "+err.Error())
			return
		}
		if req.Close || resp.Close {
			return
		}
	}
}

// drainBody discards what the exchange left unread of a request body, so
// the next read starts at a message boundary. It reports false when the
// connection cannot be reused: the body is too large, broken, or waits
// for a 100 Continue that was never sent.
func drainBody(req *http.Request, body io.ReadCloser) bool {
	if body == nil || body == http.NoBody {
		return true
	}
	if strings.EqualFold(req.Header.Get("Expect"), "100-continue") {
		return false
	}
	n, err := io.Copy(io.Discard, io.LimitReader(body, maxDrainBody+1))
	if err != nil {
		// A body the transport already consumed and closed.
		return errors.Is(err, http.ErrBodyReadAfterClose)
	}
	if n > maxDrainBody {
		return false
	}
	_ = body.Close()
	return true
}

func writeResponse(w io.Writer, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	resp.Header.Del("Proxy-Connection")
	resp.Header.Del("Keep-Alive")
	return resp.Write(w)
}

// upgrade forwards a protocol switch request as is and relays the streams
// afterwards; the upgraded protocol is not inspected.
func (s *Server) upgrade(client net.Conn, reader *bufio.Reader, req *http.Request, scheme, destAddr string) {
	upstream, err := s.dial(scheme, destAddr, req.Host)
	if err != nil {
		log.LogWarnWithAddr(req.RemoteAddr, destAddr, "dial for upgrade: "+err.Error())
		_ = writeResponse(client, common.ErrorResponse(req, http.StatusBadGateway))
		return
	}
	log.LogInfoWithAddr(req.RemoteAddr, destAddr, "websocket upgrade, switching to relay")
	if err := req.Write(upstream); err != nil {
		_ = upstream.Close()
		return
	}
	newConnLink(client, upstream).relay(reader)
}

// tunnel relays the stream to destAddr without looking at it.
func (s *Server) tunnel(client net.Conn, reader *bufio.Reader, destAddr string) {
	srcAddr := client.RemoteAddr().String()
	upstream, err := s.dialer.DialContext(s.ctx, "tcp", destAddr)
	if err != nil {
		log.LogWarnWithAddr(srcAddr, destAddr, "dial: "+err.Error())
		return
	}
	record := s.connOpened(ModeTunnel, srcAddr, destAddr)
	defer s.connClosed(record)

	log.LogDebugWithAddr(srcAddr, destAddr, "tunnelling")
	newConnLink(client, upstream).relay(reader)
}

func (s *Server) dial(scheme, destAddr, host string) (net.Conn, error) {
	conn, err := s.dialer.DialContext(s.ctx, "tcp", destAddr)
	if err != nil || scheme != "https" {
		return conn, err
	}
	cfg := s.transport.TLSClientConfig.Clone()
	cfg.ServerName = common.Host(&http.Request{Host: host})
	cfg.NextProtos = []string{"http/1.1"}
	tlsConn := tls.Client(conn, cfg)

	ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("upstream TLS handshake: %w", err)
	}
	return tlsConn, nil
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return port
}
