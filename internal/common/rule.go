package common

import "net/http"

type RuleType string

const (
	RuleTypeDomain        RuleType = "DOMAIN"
	RuleTypeDomainSuffix  RuleType = "DOMAIN-SUFFIX"
	RuleTypeDomainKeyword RuleType = "DOMAIN-KEYWORD"
	RuleTypeDomainSet     RuleType = "DOMAIN-SET"
	RuleTypeHeaderKeyword RuleType = "HEADER-KEYWORD"
	RuleTypeHeaderRegex   RuleType = "HEADER-REGEX"
	RuleTypeURLRegex      RuleType = "URL-REGEX"
	RuleTypePath          RuleType = "PATH"
	RuleTypePathPrefix    RuleType = "PATH-PREFIX"
	RuleTypeMethod        RuleType = "METHOD"
	RuleTypeSrcIP         RuleType = "SRC-IP"
	RuleTypeDestPort      RuleType = "DEST-PORT"
	RuleTypeExpr          RuleType = "EXPR"
	RuleTypeFinal         RuleType = "FINAL"
)

// Rule pairs a request predicate with the Action applied to matching
// exchanges. Match must not mutate the request.
//
// Rules held by the engine are never handed out directly: callers get a
// Clone, so any bookkeeping an action keeps between the request and the
// response phase stays local to one exchange.
type Rule interface {
	Type() RuleType
	Name() string
	Match(req *http.Request) bool
	Action() Action
	Clone() Rule
}
