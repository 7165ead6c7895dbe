package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/mitmrw/mitmrw/internal/common"
	"github.com/mitmrw/mitmrw/internal/config"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
	exprEvalTimeout     = 100 * time.Millisecond
)

var exprEnv = sync.OnceValues(newExprEnv)

// newExprEnv declares the request attributes visible to EXPR rules:
//
//	method, host, path, url, scheme, src_ip  string
//	port                                      int
//	headers, query                            map(string, string)
//
// Header names are lower-cased and multiple values joined with ", ".
// Helpers: glob(pattern, s) and in_cidr(ip, cidr).
func newExprEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("method", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("url", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("src_ip", cel.StringType),
		cel.Variable("port", cel.IntType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("query", cel.MapType(cel.StringType, cel.StringType)),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					matched, _ := path.Match(pattern.Value().(string), s.Value().(string))
					return types.Bool(matched)
				}),
			),
		),
		cel.Function("in_cidr",
			cel.Overload("in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),
	)
}

// Expr matches when a CEL expression over the request evaluates to true.
// Evaluation errors, timeouts and non-boolean results are non-matches.
type Expr struct {
	base
	expression string
	program    cel.Program
}

func (e *Expr) Type() common.RuleType {
	return common.RuleTypeExpr
}

func (e *Expr) Match(req *http.Request) bool {
	if e.program == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), exprEvalTimeout)
	defer cancel()

	result, _, err := e.program.ContextEval(ctx, activation(req))
	if err != nil {
		slog.Debug("program.ContextEval", slog.String("expr", e.expression), slog.Any("error", err))
		return false
	}
	matched, ok := result.Value().(bool)
	return ok && matched
}

func (e *Expr) Clone() common.Rule {
	c := *e
	c.base = e.cloned()
	return &c
}

func (e *Expr) MarshalJSON() ([]byte, error) {
	return e.marshal(e.Type(), map[string]any{"expr": e.expression})
}

func (e *Expr) LogValue() slog.Value {
	return e.logValue(e.Type(), slog.String("expr", e.expression))
}

func NewExpr(rule *config.Rule, a common.Action) (*Expr, error) {
	x := &Expr{
		base:       newBase(rule, a),
		expression: strings.TrimSpace(rule.MatchValue),
	}
	if x.expression == "" {
		return x, nil
	}
	program, err := CompileExpr(x.expression)
	if err != nil {
		return nil, err
	}
	x.program = program
	return x, nil
}

// CompileExpr type-checks an expression and returns a cost-limited program.
func CompileExpr(expression string) (cel.Program, error) {
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	env, err := exprEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.New("expression must evaluate to bool, got " + out.String())
	}
	program, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return program, nil
}

func activation(req *http.Request) map[string]any {
	headers := make(map[string]string, len(req.Header)+1)
	for k, v := range req.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	if req.Host != "" {
		headers["host"] = req.Host
	}

	query := map[string]string{}
	var reqPath string
	if req.URL != nil {
		reqPath = req.URL.Path
		for k, v := range req.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}
	}

	port, _ := strconv.ParseInt(common.DestPort(req), 10, 64)

	return map[string]any{
		"method":  req.Method,
		"host":    common.Host(req),
		"path":    reqPath,
		"url":     common.URL(req),
		"scheme":  common.Scheme(req),
		"src_ip":  common.SrcIP(req),
		"port":    port,
		"headers": headers,
		"query":   query,
	}
}
