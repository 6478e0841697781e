package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// celEnv exposes the fraud-check context to custom_expression rules.
var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("has_active_loan", cel.BoolType),
		cel.Variable("blacklist_match", cel.BoolType),
		cel.Variable("nid_status", cel.StringType),
		cel.Variable("kyc_match", cel.BoolType),
		cel.Variable("nid_available", cel.BoolType),
		cel.Variable("tin_available", cel.BoolType),
		cel.Variable("tin_similarity", cel.IntType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("same_day_count", cel.IntType),
		cel.Variable("ip_address", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: failed to create CEL environment: %v", err))
	}
	celEnv = env
}

// compileExpression compiles a custom_expression rule's CEL source. The
// expression must produce a bool.
func compileExpression(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: custom_expression requires a non-empty %s param",
			domain.ErrValidation, domain.ParamExpression)
	}
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s",
			domain.ErrValidation, ast.OutputType())
	}
	return celEnv.Program(ast)
}

// activation builds the CEL variable bindings for one context.
func activation(fc *domain.FraudCheckContext) map[string]any {
	amount := 0.0
	if fc.Amount != nil {
		amount = *fc.Amount
	}
	return map[string]any{
		"amount":          amount,
		"has_active_loan": fc.HasActiveLoan,
		"blacklist_match": fc.BlacklistMatch,
		"nid_status":      string(fc.Identity.Status),
		"kyc_match":       fc.Identity.KYCMatch,
		"nid_available":   fc.Identity.Available,
		"tin_available":   fc.TIN.Available,
		"tin_similarity":  int64(fc.TIN.SimilarityScore),
		"history_count":   int64(len(fc.History)),
		"same_day_count":  int64(fc.SameDayCount()),
		"ip_address":      fc.IPAddress,
	}
}

// evalProgram runs a compiled expression against a context.
func evalProgram(prog cel.Program, fc *domain.FraudCheckContext) (bool, error) {
	out, _, err := prog.Eval(activation(fc))
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression produced %T, want bool", out)
	}
	return bool(b), nil
}
