package action

import (
	"fmt"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/rule/action/body"
	"github.com/mitmrw/mitmrw/internal/rule/action/header"
	"github.com/mitmrw/mitmrw/internal/rule/action/redirect"
)

var DirectAction = NewDirect()

// NewAction builds the action a configured rule names. Header actions
// default to the request side, body rewrites to the response side.
func NewAction(rule *config.Rule) (common.Action, error) {
	switch common.ActionType(rule.Action) {
	case common.ActionDirect:
		return DirectAction, nil
	case common.ActionAdd:
		return header.NewAdd(rule.RewriteHeader, rule.RewriteValue,
			common.ParseDirection(rule.RewriteDirection, common.DirectionRequest)), nil
	case common.ActionReplace:
		return header.NewReplace(rule.RewriteHeader, rule.RewriteValue,
			common.ParseDirection(rule.RewriteDirection, common.DirectionRequest)), nil
	case common.ActionDelete:
		return header.NewDelete(rule.RewriteHeader,
			common.ParseDirection(rule.RewriteDirection, common.DirectionRequest)), nil
	case common.ActionReplaceRegex:
		return header.NewReplaceRegex(rule.RewriteHeader, rule.RewriteRegex, rule.RewriteValue,
			common.ParseDirection(rule.RewriteDirection, common.DirectionRequest))
	case common.ActionBodyReplaceRegex:
		return body.NewReplaceRegex(rule.RewriteRegex, rule.RewriteValue,
			common.ParseDirection(rule.RewriteDirection, common.DirectionResponse))
	case common.ActionInject:
		return body.NewInject(rule.RewriteValue), nil
	case common.ActionReject:
		return NewReject(rule.Status,
			common.ParseDirection(rule.RewriteDirection, common.DirectionRequest)), nil
	case common.ActionRedirect302:
		return redirect.NewRedirect302(rule.RewriteRegex, rule.RewriteValue)
	case common.ActionRedirect307:
		return redirect.NewRedirect307(rule.RewriteRegex, rule.RewriteValue)
	case common.ActionEcho:
		return NewEcho(rule.RewriteHeader, rule.RewriteValue), nil
	default:
		return nil, fmt.Errorf("unsupported action %q", rule.Action)
	}
}
