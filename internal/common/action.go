package common

import (
	"context"
	"net/http"
	"strings"
)

type ActionType string

const (
	ActionAdd              ActionType = "ADD"
	ActionReplace          ActionType = "REPLACE"
	ActionReplaceRegex     ActionType = "REPLACE-REGEX"
	ActionDelete           ActionType = "DELETE"
	ActionBodyReplaceRegex ActionType = "BODY-REPLACE-REGEX"
	ActionInject           ActionType = "INJECT"
	ActionReject           ActionType = "REJECT"
	ActionRedirect302      ActionType = "REDIRECT-302"
	ActionRedirect307      ActionType = "REDIRECT-307"
	ActionEcho             ActionType = "ECHO"
	ActionDirect           ActionType = "DIRECT"
)

type Direction string

const (
	DirectionDual     Direction = "DUAL"
	DirectionRequest  Direction = "REQUEST"
	DirectionResponse Direction = "RESPONSE"
)

// ParseDirection maps a configured direction to a Direction, returning
// def when s is empty or unknown.
func ParseDirection(s string, def Direction) Direction {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case DirectionRequest, DirectionResponse, DirectionDual:
		return d
	default:
		return def
	}
}

// Request reports whether the direction covers outbound requests.
func (d Direction) Request() bool {
	return d == DirectionRequest || d == DirectionDual
}

// Response reports whether the direction covers inbound responses.
func (d Direction) Response() bool {
	return d == DirectionResponse || d == DirectionDual
}

// Action is the transform half of a Rule.
//
// RewriteRequest returns either the request to continue with or a
// synthetic response. A non-nil response ends the request fold and no
// upstream call is made. RewriteResponse always returns the response to
// continue with. Actions are identity on directions they do not serve.
type Action interface {
	Type() ActionType
	Direction() Direction
	RewriteRequest(ctx context.Context, req *http.Request) (*http.Request, *http.Response, error)
	RewriteResponse(ctx context.Context, resp *http.Response) (*http.Response, error)
	Clone() Action
}
