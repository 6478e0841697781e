package rules

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CompiledRule pairs a rule with its resolved evaluator. For
// custom_expression rules the CEL program is pre-compiled; for everything else
// eval points at the registry function. Both nil means the condition type has
// no evaluator here and the rule is skipped with a warning.
type CompiledRule struct {
	Rule    *domain.Rule
	eval    Evaluator
	program cel.Program
}

// Snapshot is one immutable, versioned view of the active rule set, sorted by
// ascending rule id. An evaluation captures a snapshot once and is unaffected
// by administrative mutations published afterwards.
type Snapshot struct {
	Version int64
	Rules   []*CompiledRule
}

// Compile resolves evaluators for a set of rules and returns a snapshot.
// Rules whose custom expression no longer compiles are included without an
// evaluator; Evaluate degrades them to warnings instead of failing the check.
func Compile(version int64, active []*domain.Rule) *Snapshot {
	compiled := make([]*CompiledRule, 0, len(active))
	for _, r := range active {
		cr := &CompiledRule{Rule: r}
		if r.ConditionType == domain.CondCustomExpression {
			if prog, err := compileExpression(r.Params.String(domain.ParamExpression, "")); err == nil {
				cr.program = prog
			}
		} else {
			cr.eval = builtinEvaluators[r.ConditionType]
		}
		compiled = append(compiled, cr)
	}
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Rule.ID < compiled[j].Rule.ID
	})
	return &Snapshot{Version: version, Rules: compiled}
}

// Result is the output of evaluating one context against a snapshot.
type Result struct {
	Matched  []domain.MatchedReason
	Score    float64
	Warnings []string
}

// Evaluate runs every rule in the snapshot against the context, in snapshot
// order, so matched-reason ordering is deterministic for a fixed rule set.
// A rule without an evaluator, or whose evaluator errors, is skipped and
// reported as a degraded-evaluation warning; a single bad rule never blocks
// fraud checking. The aggregate score is the clamped sum of matched
// contributions.
func Evaluate(fc *domain.FraudCheckContext, snap *Snapshot) Result {
	var res Result
	if snap == nil {
		return res
	}

	for _, cr := range snap.Rules {
		var matched bool
		var err error

		switch {
		case cr.eval != nil:
			matched, err = cr.eval(fc, cr.Rule.Params)
		case cr.program != nil:
			matched, err = evalProgram(cr.program, fc)
		default:
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("rule %d: no evaluator for condition type %q, skipped", cr.Rule.ID, cr.Rule.ConditionType))
			continue
		}

		if err != nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("rule %d: evaluation degraded: %v", cr.Rule.ID, err))
			continue
		}
		if !matched {
			continue
		}

		res.Matched = append(res.Matched, domain.MatchedReason{
			RuleID:       cr.Rule.ID,
			Reason:       reasonText(cr.Rule),
			Contribution: cr.Rule.Params.Float(domain.ParamRiskWeight, domain.DefaultRiskWeight),
		})
	}

	for _, m := range res.Matched {
		res.Score += m.Contribution
	}
	if res.Score > 1.0 {
		res.Score = 1.0
	}
	return res
}

// reasonText is the audit-facing explanation of a match: the rule description
// when present, the rule name otherwise.
func reasonText(r *domain.Rule) string {
	if r.Description != "" {
		return r.Description
	}
	return r.Name
}
