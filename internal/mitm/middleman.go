package mitm

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
)

// MiddleMan terminates client TLS with a leaf minted for the requested
// host, so the cleartext exchanges can go through the session handler.
type MiddleMan struct {
	certs              *CertManager
	insecureSkipVerify bool
}

func NewMiddleMan(certs *CertManager, insecureSkipVerify bool) *MiddleMan {
	return &MiddleMan{
		certs:              certs,
		insecureSkipVerify: insecureSkipVerify,
	}
}

// Accept runs the server side handshake on conn. reader may hold bytes of
// the ClientHello that were already peeked. serverName is used when the
// client sends no SNI.
func (m *MiddleMan) Accept(ctx context.Context, conn net.Conn, reader *bufio.Reader, serverName string) (*tls.Conn, error) {
	cfg := &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = serverName
			}
			return m.certs.GetCertificate(&tls.ClientHelloInfo{ServerName: host})
		},
		NextProtos: []string{"http/1.1"},
	}

	var raw net.Conn = conn
	if reader != nil {
		raw = newBufferedConn(conn, reader)
	}
	clientTLS := tls.Server(raw, cfg)
	if err := clientTLS.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("client TLS handshake: %w", err)
	}
	slog.Debug("MitM client handshake completed",
		slog.String("src", conn.RemoteAddr().String()),
		slog.String("sni", clientTLS.ConnectionState().ServerName))
	return clientTLS, nil
}

// UpstreamTLSConfig is the client config used to reach origin servers.
func (m *MiddleMan) UpstreamTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: m.insecureSkipVerify,
		NextProtos:         []string{"http/1.1"},
	}
}

// bufferedConn reads through a bufio.Reader so bytes already peeked from
// the connection are not lost.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func newBufferedConn(conn net.Conn, reader *bufio.Reader) *bufferedConn {
	return &bufferedConn{
		Conn:   conn,
		reader: reader,
	}
}

func (bc *bufferedConn) Read(b []byte) (int, error) {
	return bc.reader.Read(b)
}
