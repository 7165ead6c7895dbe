package sniff

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Protocol is what the first bytes of a client stream look like.
type Protocol string

const (
	TCP  Protocol = "TCP"
	HTTP Protocol = "HTTP"
	TLS  Protocol = "TLS"
)

// Sniff classifies a client stream without consuming it. A TLS stream
// comes with its ClientHello details.
func Sniff(reader *bufio.Reader) (Protocol, *TLSInfo, error) {
	info, err := SniffTLSClientHello(reader)
	if err != nil {
		return TCP, nil, fmt.Errorf("SniffTLSClientHello: %w", err)
	}
	if info != nil {
		return TLS, info, nil
	}
	isHTTP, err := SniffHTTP(reader)
	if err != nil {
		return TCP, nil, fmt.Errorf("SniffHTTP: %w", err)
	}
	if isHTTP {
		return HTTP, nil, nil
	}
	return TCP, nil, nil
}

// peekLineSlice reads a line from bufio.Reader without consuming it.
// returns the line bytes (without CRLF) or error.
func peekLineSlice(br *bufio.Reader, maxSize int) ([]byte, error) {
	var line []byte

	peekSize := maxSize
	if peekSize == 0 {
		return nil, io.EOF
	}
	if buffered := br.Buffered(); buffered < peekSize {
		peekSize = buffered
	}

	buf, err := br.Peek(peekSize)
	if err != nil {
		return nil, err
	}

	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		line = append(line, buf[:i]...)
		// Remove trailing CR if present
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		return line, nil
	}
	return nil, io.EOF
}

// peekLineString is peekLineSlice returning a string.
func peekLineString(br *bufio.Reader, maxSize int) (string, error) {
	lineBytes, err := peekLineSlice(br, maxSize)
	if err != nil {
		return "", err
	}
	return string(lineBytes), nil
}
