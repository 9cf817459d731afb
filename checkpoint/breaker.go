package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FailureTracker counts recent terminal failures per definition within
// a sliding window and trips the breaker (force-disables the
// definition) once the count reaches the definition's threshold.
//
// REDESIGN from the teacher's llm/circuitbreaker: that breaker trips on
// *consecutive* failures and recovers automatically via a half-open
// probe state. This tracker instead counts failures within a rolling
// time window and never recovers on its own — re-enabling a tripped
// definition is an admin action (spec.md §4.4). The mutex-guarded
// per-key state and zap logging idiom are kept from the teacher.
type FailureTracker interface {
	// RecordTerminalFailure registers a failed/timed_out transition
	// whose retry budget is exhausted and trips the breaker if the
	// window's failure count reaches the definition's threshold.
	RecordTerminalFailure(ctx context.Context, def *Definition) error
	// IsTripped reports whether this tracker has tripped the definition
	// since its last Reset. The flag lives in process memory and stays
	// set until Reset; the Resolver checks it on every resolve, alongside
	// the Definition Store's enabled flag.
	IsTripped(definitionID uint) bool
	// Reset clears the in-memory window for a definition, called when
	// an admin re-enables it.
	Reset(definitionID uint)
}

type slidingWindowTracker struct {
	mu       sync.Mutex
	failures map[uint][]time.Time
	tripped  map[uint]bool

	definitions DefinitionStore
	logger      *zap.Logger
}

// NewFailureTracker returns the in-process sliding-window Failure
// Tracker. defStore is used to persist the trip (force-disable).
func NewFailureTracker(defStore DefinitionStore, logger *zap.Logger) FailureTracker {
	return &slidingWindowTracker{
		failures:    make(map[uint][]time.Time),
		tripped:     make(map[uint]bool),
		definitions: defStore,
		logger:      logger.With(zap.String("component", "failure_tracker")),
	}
}

func (t *slidingWindowTracker) RecordTerminalFailure(ctx context.Context, def *Definition) error {
	window := time.Duration(def.CircuitBreakerWindowMinutes) * time.Minute
	now := time.Now()

	t.mu.Lock()
	cutoff := now.Add(-window)
	kept := t.failures[def.ID][:0]
	for _, ts := range t.failures[def.ID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.failures[def.ID] = kept
	count := len(kept)
	alreadyTripped := t.tripped[def.ID]
	shouldTrip := !alreadyTripped && def.CircuitBreakerThreshold > 0 && count >= def.CircuitBreakerThreshold
	if shouldTrip {
		t.tripped[def.ID] = true
	}
	t.mu.Unlock()

	if !shouldTrip {
		return nil
	}

	if _, err := t.definitions.Toggle(ctx, def.ID, false); err != nil {
		t.logger.Error("failed to persist circuit breaker trip",
			zap.Uint("definition_id", def.ID), zap.Error(err))
		return err
	}
	t.logger.Warn("circuit breaker tripped, definition disabled",
		zap.Uint("definition_id", def.ID),
		zap.String("control_type", def.ControlType),
		zap.Int("failure_count", count),
		zap.Int("threshold", def.CircuitBreakerThreshold),
	)
	return nil
}

func (t *slidingWindowTracker) IsTripped(definitionID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tripped[definitionID]
}

func (t *slidingWindowTracker) Reset(definitionID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tripped, definitionID)
	delete(t.failures, definitionID)
}
