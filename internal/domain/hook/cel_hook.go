package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// maxExpressionLength is the maximum allowed length for policy expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// CELPolicyHook is an ExecutionGuard driven by a CEL expression evaluated
// against the execution context. The expression must yield a bool: true
// allows the call, false denies it with code "forbidden".
//
// Available variables: tool (gateway name), original_name, domain, group,
// arguments (map), user (dyn, null when unauthenticated).
type CELPolicyHook struct {
	program cel.Program
	expr    string
}

// NewCELPolicyHook compiles the expression and returns the guard.
func NewCELPolicyHook(expr string) (*CELPolicyHook, error) {
	if expr == "" {
		return nil, errors.New("policy expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("policy expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("original_name", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("group", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy expression must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy program: %w", err)
	}

	return &CELPolicyHook{program: prg, expr: expr}, nil
}

// Name implements the log-name contract.
func (h *CELPolicyHook) Name() string {
	return "cel-policy"
}

// BeforeExecute evaluates the policy expression for one execution.
func (h *CELPolicyHook) BeforeExecute(ctx context.Context, ectx *ExecutionContext) (*Denial, error) {
	args := ectx.Arguments
	if args == nil {
		args = map[string]any{}
	}
	var user any = types.NullValue
	if ectx.User != nil {
		user = ectx.User
	}

	out, _, err := h.program.ContextEval(ctx, map[string]any{
		"tool":          ectx.Tool.Name,
		"original_name": ectx.Tool.OriginalName,
		"domain":        ectx.Tool.Domain,
		"group":         ectx.Tool.Group,
		"arguments":     args,
		"user":          user,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate policy expression: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression returned %T, want bool", out.Value())
	}
	if !allowed {
		return &Denial{Code: "forbidden", Message: fmt.Sprintf("tool %s denied by policy", ectx.Tool.Name)}, nil
	}
	return nil, nil
}

func init() {
	Register("cel-policy", func(cfg FactoryConfig) (any, error) {
		return NewCELPolicyHook(cfg.CELExpression)
	})
}
