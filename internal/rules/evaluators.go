// Package rules provides the fraud rule evaluation engine: a registry of
// condition-type evaluators, CEL-backed custom expressions, and a versioned
// snapshot store over the rule repository.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluator is a pure function deciding whether one rule matches a context.
// Evaluators must not touch global mutable state; everything they need is in
// the context and the rule parameters.
type Evaluator func(fc *domain.FraudCheckContext, params domain.Params) (bool, error)

// builtinEvaluators maps condition types to their evaluators. custom_expression
// is handled separately because it needs compilation at rule-creation time.
var builtinEvaluators = map[string]Evaluator{
	domain.CondActiveLoan:       evalActiveLoan,
	domain.CondDuplicatePhone:   evalDuplicatePhone,
	domain.CondRapidReapply:     evalRapidReapply,
	domain.CondExcessiveReapply: evalExcessiveReapply,
	domain.CondFraudDBMatch:     evalFraudDBMatch,
	domain.CondTINMismatch:      evalTINMismatch,
	domain.CondNIDKYCMismatch:   evalNIDKYCMismatch,
	domain.CondNIDExpired:       evalNIDExpired,
	domain.CondNIDSuspended:     evalNIDSuspended,
	domain.CondHighAmount:       evalHighAmount,
}

// Registered reports whether conditionType has an evaluator.
func Registered(conditionType string) bool {
	if conditionType == domain.CondCustomExpression {
		return true
	}
	_, ok := builtinEvaluators[conditionType]
	return ok
}

// ConditionTypes returns the registered condition types, for API listings.
func ConditionTypes() []string {
	types := make([]string, 0, len(builtinEvaluators)+1)
	for t := range builtinEvaluators {
		types = append(types, t)
	}
	types = append(types, domain.CondCustomExpression)
	return types
}

func evalActiveLoan(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	return fc.HasActiveLoan, nil
}

// evalDuplicatePhone flags a history entry with a different phone under the
// same (name, gender) pair.
func evalDuplicatePhone(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	if fc.Subject.Phone == "" || fc.Subject.Name == "" {
		return false, nil
	}
	name := strings.ToLower(strings.TrimSpace(fc.Subject.Name))
	for _, rec := range fc.History {
		if rec.Phone == "" || rec.Phone == fc.Subject.Phone {
			continue
		}
		if strings.ToLower(strings.TrimSpace(rec.Name)) == name &&
			strings.EqualFold(rec.Gender, fc.Subject.Gender) {
			return true, nil
		}
	}
	return false, nil
}

// evalRapidReapply checks whether the most recent prior application falls
// within the configured window of the current one. History is ordered most
// recent first.
func evalRapidReapply(fc *domain.FraudCheckContext, params domain.Params) (bool, error) {
	if len(fc.History) == 0 {
		return false, nil
	}
	window := params.Duration(domain.ParamWindowHours, 24*time.Hour)
	last := fc.History[0].Timestamp
	if last.After(fc.Timestamp) {
		return false, fmt.Errorf("history entry newer than check timestamp")
	}
	return fc.Timestamp.Sub(last) <= window, nil
}

// evalExcessiveReapply counts applications on the check's calendar day. The
// count includes the in-flight application, so a threshold of 2 trips on the
// third submission of the day.
func evalExcessiveReapply(fc *domain.FraudCheckContext, params domain.Params) (bool, error) {
	max := params.Int(domain.ParamMaxPerDay, 2)
	return fc.SameDayCount()+1 > max, nil
}

func evalFraudDBMatch(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	return fc.BlacklistMatch, nil
}

// evalTINMismatch trips when the tax-registry name similarity falls below the
// threshold. An unavailable registry result never matches.
func evalTINMismatch(fc *domain.FraudCheckContext, params domain.Params) (bool, error) {
	if !fc.TIN.Available {
		return false, nil
	}
	threshold := params.Int(domain.ParamNameSimilarity, 85)
	return fc.TIN.SimilarityScore < threshold, nil
}

func evalNIDKYCMismatch(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	return fc.Identity.Available && !fc.Identity.KYCMatch, nil
}

func evalNIDExpired(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	if !fc.Identity.Available {
		return false, nil
	}
	if fc.Identity.Status == domain.IdentityExpired {
		return true, nil
	}
	return !fc.Identity.ExpiryDate.IsZero() && fc.Identity.ExpiryDate.Before(fc.Timestamp), nil
}

func evalNIDSuspended(fc *domain.FraudCheckContext, _ domain.Params) (bool, error) {
	return fc.Identity.Available && fc.Identity.Status == domain.IdentitySuspended, nil
}

func evalHighAmount(fc *domain.FraudCheckContext, params domain.Params) (bool, error) {
	if fc.Amount == nil {
		return false, nil
	}
	threshold := params.Float(domain.ParamAmountThreshold, 0)
	if threshold <= 0 {
		return false, fmt.Errorf("%s requires a positive %s param", domain.CondHighAmount, domain.ParamAmountThreshold)
	}
	return *fc.Amount > threshold, nil
}
