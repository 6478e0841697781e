package domain

import "errors"

// Error taxonomy for the decisioning core. Adapter and rule level failures are
// recovered locally and folded into the decision; lifecycle and persistence
// failures surface to the caller as the terminal result of the operation.
var (
	// ErrValidation marks malformed input, rejected before any rule evaluation.
	ErrValidation = errors.New("validation error")

	// ErrAdapterFailure marks an unreachable or malformed external verification
	// or ML response. The affected signal degrades; the decision continues.
	ErrAdapterFailure = errors.New("adapter failure")

	// ErrUnknownRuleType marks a rule referencing an unregistered evaluator.
	// Rejected at rule creation; skipped with a warning at evaluation time.
	ErrUnknownRuleType = errors.New("unknown rule condition type")

	// ErrInvalidStateTransition marks an illegal alert or case lifecycle
	// mutation. The record is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidAssignment marks an assignment attempt on a closed record or
	// without a target analyst.
	ErrInvalidAssignment = errors.New("invalid assignment")

	// ErrConcurrentModification marks a lost optimistic-lock race. The caller
	// must re-read and retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrPersistenceFailure marks an unreachable durable store. The whole
	// check fails and must be retried by the caller.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
