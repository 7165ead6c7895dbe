package sniff

import (
	"bufio"
	"net/http"
	"strings"
)

// HTTP methods used to detect HTTP by request line.
var methodBytes = [...][]byte{
	[]byte("GET"),
	[]byte("POST"),
	[]byte("HEAD"),
	[]byte("CONNECT"),
	[]byte("PUT"),
	[]byte("DELETE"),
	[]byte("OPTIONS"),
	[]byte("PATCH"),
	[]byte("TRACE"),
}

const maxMethodLen = 7

type node struct {
	next map[byte]*node
	end  bool
}

var root *node

func init() {
	root = &node{next: make(map[byte]*node)}
	for _, m := range methodBytes {
		cur := root
		for _, c := range m {
			if cur.next[c] == nil {
				cur.next[c] = &node{next: make(map[byte]*node)}
			}
			cur = cur.next[c]
		}
		cur.end = true
	}
}

// beginWithHTTPMethod peeks the first few bytes to check for known HTTP method prefixes.
func beginWithHTTPMethod(reader *bufio.Reader) (bool, error) {
	cur := root
	var prevLen int

	for n := 3; n <= maxMethodLen; n++ {
		buf, err := reader.Peek(n)
		if err != nil {
			return false, err
		}
		for i := prevLen; i < len(buf); i++ {
			c := buf[i]
			next, ok := cur.next[c]
			if !ok {
				return false, nil
			}
			cur = next
			if cur.end {
				return true, nil
			}
		}
		prevLen = len(buf)
	}

	return false, nil
}

// parseRequestLine parses "GET /foo HTTP/1.1" into its three parts.
func parseRequestLine(line string) (method, requestURI, proto string, ok bool) {
	method, rest, ok1 := strings.Cut(line, " ")
	requestURI, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 {
		return "", "", "", false
	}
	return method, requestURI, proto, true
}

// SniffHTTP peeks the first few bytes and checks for a known HTTP method prefix.
func SniffHTTP(reader *bufio.Reader) (bool, error) {
	beginHTTP, err := beginWithHTTPMethod(reader)
	if err != nil {
		return false, err
	}

	line, err := peekLineString(reader, 128)
	if err != nil {
		return beginHTTP, nil
	}
	_, _, proto, ok := parseRequestLine(line)
	if !ok {
		return beginHTTP, nil
	}
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return false, nil
	}
	return beginHTTP, nil
}

// IsWebSocketUpgrade reports whether a request asks to switch to the
// WebSocket protocol.
func IsWebSocketUpgrade(h http.Header) bool {
	return headerHasToken(h, "Connection", "upgrade") && headerHasToken(h, "Upgrade", "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
