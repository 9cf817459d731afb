package checkpoint

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SubmitResult is the outcome of a successful or failed submit call.
type SubmitResult struct {
	Instance       *Instance
	Issues         []ValidationIssue
	AttemptCount   int
	MaxRetries     int
	RetryAvailable bool
}

// Lifecycle executes submit / skip / retry / timeout / fail transitions
// against the Instance Store and notifies the Failure Tracker on
// terminal failure (spec.md §4.6).
type Lifecycle struct {
	definitions DefinitionStore
	instances   InstanceStore
	breaker     FailureTracker
	logger      *zap.Logger
}

// NewLifecycle constructs a Lifecycle controller.
func NewLifecycle(definitions DefinitionStore, instances InstanceStore, breaker FailureTracker, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		definitions: definitions,
		instances:   instances,
		breaker:     breaker,
		logger:      logger.With(zap.String("component", "lifecycle")),
	}
}

// Submit validates a raw JSON submission body against the instance's
// frozen field schema and records the outcome. Validation reads the
// submission with gjson rather than a full struct unmarshal, so
// unrelated sibling keys never block a submit. A validation failure
// sets state failed without consuming a retry (spec.md §4.6, §9
// "failure semantics are asymmetric").
func (l *Lifecycle) Submit(ctx context.Context, instanceID uint, rawData []byte) (*SubmitResult, error) {
	inst, err := l.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return nil, NewError(ErrCodeAlreadyFinalized, "instance is already finalized")
	}

	def, err := l.definitions.GetByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	if (inst.State == StateFailed || inst.State == StateTimedOut) && inst.ExhaustedRetries(def.MaxRetries) {
		return nil, NewError(ErrCodeRetryExhausted, "attempt_count has reached max_retries; call retry first")
	}

	normalized, issues, err := ValidateJSON(inst.FieldSchema.Val, rawData)
	if err != nil {
		return nil, NewError(ErrCodeValidationFailure, "submission body is not valid JSON").WithCause(err)
	}
	if len(issues) > 0 {
		summary := fmt.Sprintf("validation failed: %d issue(s)", len(issues))
		now := clockNow()
		updated, txErr := l.instances.Transition(ctx, instanceID, func(i *Instance) error {
			i.LastError = summary
			i.State = StateFailed
			i.FailedAt = &now
			return nil
		})
		if txErr != nil {
			return nil, txErr
		}
		return &SubmitResult{
			Instance:       updated,
			Issues:         issues,
			AttemptCount:   updated.AttemptCount,
			MaxRetries:     def.MaxRetries,
			RetryAvailable: !updated.ExhaustedRetries(def.MaxRetries),
		}, NewError(ErrCodeValidationFailure, "submission failed validation").WithIssues(issues)
	}

	now := clockNow()
	updated, err := l.instances.Transition(ctx, instanceID, func(i *Instance) error {
		i.State = StateSubmitted
		i.SubmitResult = NewJSONColumn(normalized)
		i.SubmittedAt = &now
		i.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Instance: updated, AttemptCount: updated.AttemptCount, MaxRetries: def.MaxRetries}, nil
}

// Skip transitions a non-required, non-terminal instance to skipped.
func (l *Lifecycle) Skip(ctx context.Context, instanceID uint) (*Instance, error) {
	inst, err := l.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return nil, NewError(ErrCodeAlreadyFinalized, "instance is already finalized")
	}

	def, err := l.definitions.GetByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	if def.Required {
		return nil, NewError(ErrCodeSkipNotAllowed, "cannot skip a required checkpoint")
	}

	return l.instances.Transition(ctx, instanceID, func(i *Instance) error {
		i.State = StateSkipped
		return nil
	})
}

// Retry clears the failure and returns a failed/timed_out instance to
// offered. It does not change attempt_count (spec.md §4.6). It is
// itself rejected once attempt_count has reached max_retries
// (spec.md §7) — otherwise a client could loop retry/submit forever
// and defeat the required-checkpoint blocking semantics.
func (l *Lifecycle) Retry(ctx context.Context, instanceID uint) (*Instance, error) {
	inst, err := l.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != StateFailed && inst.State != StateTimedOut {
		return nil, NewError(ErrCodeAlreadyFinalized, "retry is only valid from failed or timed_out")
	}

	def, err := l.definitions.GetByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	if inst.ExhaustedRetries(def.MaxRetries) {
		return nil, NewError(ErrCodeRetryExhausted, "attempt_count has reached max_retries")
	}

	return l.instances.Transition(ctx, instanceID, func(i *Instance) error {
		i.LastError = ""
		i.State = StateOffered
		return nil
	})
}

// Timeout is invoked when the UI-side timer expires. It is idempotent:
// an already timed_out instance is returned unchanged. Increments
// attempt_count and notifies the Failure Tracker if the retry budget is
// now exhausted.
func (l *Lifecycle) Timeout(ctx context.Context, instanceID uint) (*Instance, error) {
	inst, err := l.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return nil, NewError(ErrCodeAlreadyFinalized, "instance is already finalized")
	}
	if inst.State == StateTimedOut {
		return inst, nil
	}

	def, err := l.definitions.GetByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	now := clockNow()
	updated, err := l.instances.Transition(ctx, instanceID, func(i *Instance) error {
		i.AttemptCount++
		i.LastError = "timed out"
		i.State = StateTimedOut
		i.FailedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.ExhaustedRetries(def.MaxRetries) {
		if err := l.breaker.RecordTerminalFailure(ctx, def); err != nil {
			l.logger.Error("failure tracker notification failed", zap.Error(err))
		}
	}
	return updated, nil
}

// Fail is used internally for non-validation submission errors (e.g. a
// schema-internal exception), not for the HTTP-facing submit path.
func (l *Lifecycle) Fail(ctx context.Context, instanceID uint, cause string) (*Instance, error) {
	inst, err := l.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return nil, NewError(ErrCodeAlreadyFinalized, "instance is already finalized")
	}

	def, err := l.definitions.GetByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	now := clockNow()
	updated, err := l.instances.Transition(ctx, instanceID, func(i *Instance) error {
		i.AttemptCount++
		i.LastError = cause
		i.State = StateFailed
		i.FailedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.ExhaustedRetries(def.MaxRetries) {
		if err := l.breaker.RecordTerminalFailure(ctx, def); err != nil {
			l.logger.Error("failure tracker notification failed", zap.Error(err))
		}
	}
	return updated, nil
}
