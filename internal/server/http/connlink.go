package http

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

// connLink pairs a client connection (L) with its upstream (R) for raw
// relaying.
type connLink struct {
	lConn net.Conn
	rConn net.Conn
	lAddr string
	rAddr string
}

func newConnLink(client, upstream net.Conn) *connLink {
	return &connLink{
		lConn: client,
		rConn: upstream,
		lAddr: client.RemoteAddr().String(),
		rAddr: upstream.RemoteAddr().String(),
	}
}

// relay copies both directions until each side has finished. lReader is
// read instead of the client connection when it holds buffered bytes.
func (c *connLink) relay(lReader io.Reader) {
	if lReader == nil {
		lReader = c.lConn
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(c.lConn, c.rConn)
		halfClose(c.rConn, c.lConn)
		c.logDebugf("copy R->L done, %d bytes", n)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(c.rConn, lReader)
		halfClose(c.lConn, c.rConn)
		c.logDebugf("copy L->R done, %d bytes", n)
	}()
	wg.Wait()
	c.close()
}

// halfClose ends reading on src and writing on dst, closing whichever side
// cannot be half-closed.
func halfClose(src, dst net.Conn) {
	if cr, ok := src.(closeReader); ok {
		_ = cr.CloseRead()
	} else {
		_ = src.Close()
	}
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
}

func (c *connLink) close() {
	_ = c.lConn.Close()
	_ = c.rConn.Close()
}

func (c *connLink) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("LAddr", c.lAddr),
		slog.String("RAddr", c.rAddr),
	)
}

func (c *connLink) logDebugf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "ConnLink", c)
}
