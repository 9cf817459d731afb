package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, DefinitionStore, InstanceStore, FailureTracker) {
	defs, instances := newTestStores(t)
	breaker := NewFailureTracker(defs, zap.NewNop())
	return NewLifecycle(defs, instances, breaker, zap.NewNop()), defs, instances, breaker
}

func offeredInstance(t *testing.T, defs DefinitionStore, instances InstanceStore, def *Definition, taskID string) *Instance {
	t.Helper()
	inst, err := instances.Create(context.Background(), taskID, def, nil)
	require.NoError(t, err)
	inst, err = instances.Transition(context.Background(), inst.ID, func(i *Instance) error {
		i.State = StateOffered
		return nil
	})
	require.NoError(t, err)
	return inst
}

func TestLifecycle_SubmitSuccess(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:      "notes_form",
		PipelinePosition: PositionAfterRetrieval,
		ApplicableModes:  NewJSONColumn([]string{AnyMode}),
		FieldSchema:      NewJSONColumn([]FieldDescriptor{{Key: "notes", Type: FieldTextarea, Required: true}}),
		MaxRetries:       2,
		Enabled:          true,
	}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t1")

	result, err := lc.Submit(ctx, inst.ID, []byte(`{"notes":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, result.Instance.State)
	assert.NotNil(t, result.Instance.SubmittedAt)
	assert.Equal(t, "hello", result.Instance.SubmitResult.Val["notes"])
	assert.Equal(t, 0, result.Instance.AttemptCount)
}

func TestLifecycle_SubmitValidationFailureDoesNotConsumeRetry(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:      "notes_form2",
		PipelinePosition: PositionAfterRetrieval,
		ApplicableModes:  NewJSONColumn([]string{AnyMode}),
		FieldSchema:      NewJSONColumn([]FieldDescriptor{{Key: "notes", Type: FieldTextarea, Required: true}}),
		MaxRetries:       2,
		Enabled:          true,
	}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t2")

	result, err := lc.Submit(ctx, inst.ID, []byte(`{"notes":""}`))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidationFailure))
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "notes", result.Issues[0].Key)
	assert.Equal(t, 0, result.AttemptCount, "validation failure must not consume a retry")
	assert.Equal(t, StateFailed, result.Instance.State)
	assert.NotNil(t, result.Instance.FailedAt, "validation failure records failed_at like any other transition into failed")

	// Resubmit with valid data succeeds.
	ok, err := lc.Submit(ctx, inst.ID, []byte(`{"notes":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, ok.Instance.State)
}

func TestLifecycle_SubmitOnTerminalRejected(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "term", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst, err := instances.Create(ctx, "t3", def, nil)
	require.NoError(t, err)
	_, err = instances.Transition(ctx, inst.ID, func(i *Instance) error {
		i.State = StateSkipped
		return nil
	})
	require.NoError(t, err)

	_, err = lc.Submit(ctx, inst.ID, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeAlreadyFinalized))
}

func TestLifecycle_SubmitRejectsWhenRetryExhausted(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "exhausted", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), MaxRetries: 1, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst, err := instances.Create(ctx, "t4", def, nil)
	require.NoError(t, err)
	_, err = instances.Transition(ctx, inst.ID, func(i *Instance) error {
		i.State = StateFailed
		i.AttemptCount = 1
		return nil
	})
	require.NoError(t, err)

	_, err = lc.Submit(ctx, inst.ID, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeRetryExhausted))
}

func TestLifecycle_SkipRequiredForbidden(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "req", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), Required: true, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t5")

	_, err := lc.Skip(ctx, inst.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSkipNotAllowed))

	reread, err := instances.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOffered, reread.State, "state unchanged after rejected skip")
}

func TestLifecycle_SkipOptionalSucceeds(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "opt", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), Required: false, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t6")

	updated, err := lc.Skip(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, updated.State)
}

func TestLifecycle_RetryFromFailedReturnsToOffered(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "retryable", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), MaxRetries: 2, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst, err := instances.Create(ctx, "t7", def, nil)
	require.NoError(t, err)
	_, err = instances.Transition(ctx, inst.ID, func(i *Instance) error {
		i.State = StateFailed
		i.AttemptCount = 1
		i.LastError = "boom"
		return nil
	})
	require.NoError(t, err)

	updated, err := lc.Retry(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOffered, updated.State)
	assert.Equal(t, 1, updated.AttemptCount, "retry does not change attempt_count")
	assert.Empty(t, updated.LastError)
}

func TestLifecycle_RetryRejectedWhenRetriesExhausted(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "retry_exhausted", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), MaxRetries: 1, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst, err := instances.Create(ctx, "t7b", def, nil)
	require.NoError(t, err)
	_, err = instances.Transition(ctx, inst.ID, func(i *Instance) error {
		i.State = StateFailed
		i.AttemptCount = 1
		return nil
	})
	require.NoError(t, err)

	_, err = lc.Retry(ctx, inst.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeRetryExhausted), "retry itself must reject once attempt_count reaches max_retries, or a client can loop retry/submit forever")
}

func TestLifecycle_RetryFromNonFailedRejected(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "notretryable", PipelinePosition: PositionAfterRetrieval, ApplicableModes: NewJSONColumn([]string{AnyMode}), Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t8")

	_, err := lc.Retry(ctx, inst.ID)
	require.Error(t, err)
}

func TestLifecycle_TimeoutIsIdempotent(t *testing.T) {
	lc, defs, instances, _ := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{ControlType: "timeoutable", PipelinePosition: PositionPostGeneration, ApplicableModes: NewJSONColumn([]string{AnyMode}), MaxRetries: 3, Enabled: true}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t9")

	first, err := lc.Timeout(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, first.State)
	assert.Equal(t, 1, first.AttemptCount)

	second, err := lc.Timeout(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, second.State)
	assert.Equal(t, 1, second.AttemptCount, "repeated timeout is a no-op")
}

func TestLifecycle_TimeoutExhaustionNotifiesBreaker(t *testing.T) {
	lc, defs, instances, breaker := newTestLifecycle(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:                 "timeout_zero_retry",
		PipelinePosition:            PositionPostGeneration,
		ApplicableModes:             NewJSONColumn([]string{AnyMode}),
		MaxRetries:                  0,
		CircuitBreakerThreshold:     1,
		CircuitBreakerWindowMinutes: 60,
		Enabled:                     true,
	}
	require.NoError(t, defs.Create(ctx, def))
	inst := offeredInstance(t, defs, instances, def, "t10")

	updated, err := lc.Timeout(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AttemptCount)
	assert.True(t, breaker.IsTripped(def.ID), "max_retries=0 means the first timeout exhausts the budget and trips the breaker")
}
