package common

import (
	"net"
	"net/http"
	"strings"
)

// Host returns the request host without port, lower-cased.
func Host(req *http.Request) string {
	if req == nil {
		return ""
	}
	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func Scheme(req *http.Request) string {
	if req.URL != nil && req.URL.Scheme != "" {
		return req.URL.Scheme
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}

func DestPort(req *http.Request) string {
	if req == nil {
		return ""
	}
	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	if _, port, err := net.SplitHostPort(host); err == nil && port != "" {
		return port
	}
	if Scheme(req) == "https" {
		return "443"
	}
	return "80"
}

func DestAddr(req *http.Request) string {
	if req == nil {
		return ""
	}
	return net.JoinHostPort(Host(req), DestPort(req))
}

func SrcAddr(req *http.Request) string {
	if req == nil {
		return ""
	}
	return req.RemoteAddr
}

// SrcIP returns the client IP taken from RemoteAddr, or "" when unknown.
func SrcIP(req *http.Request) string {
	addr := SrcAddr(req)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}

// URL rebuilds the absolute request URL, e.g. https://example.com/a?b=c.
func URL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	return Scheme(req) + "://" + host + req.URL.RequestURI()
}

// RequestOf returns the request a response answers, or nil.
func RequestOf(resp *http.Response) *http.Request {
	if resp == nil {
		return nil
	}
	return resp.Request
}
