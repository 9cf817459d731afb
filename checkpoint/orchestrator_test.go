package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePipelineDriver stands in for the external retrieval/generation
// collaborator: it drives a task through the three pipeline positions,
// consulting the Orchestrator at each one exactly the way the real
// chat pipeline would (spec.md §4.8).
type fakePipelineDriver struct {
	orchestrator *Orchestrator
	lifecycle    *Lifecycle
}

func newOrchestratorHarness(t *testing.T) (*fakePipelineDriver, DefinitionStore, InstanceStore, FailureTracker) {
	defs, instances := newTestStores(t)
	logger := zap.NewNop()
	breaker := NewFailureTracker(defs, logger)
	resolver := NewResolver(defs, instances, breaker, logger)
	lifecycle := NewLifecycle(defs, instances, breaker, logger)
	orchestrator := NewOrchestrator(resolver, instances)
	require.NoError(t, NewSeeder(defs, logger).Seed(context.Background()))
	return &fakePipelineDriver{orchestrator: orchestrator, lifecycle: lifecycle}, defs, instances, breaker
}

// TestOrchestrator_S1HappyPathHITLFull walks a single task through all
// three seeded checkpoints under hitl_full mode, submitting valid data
// at each position.
func TestOrchestrator_S1HappyPathHITLFull(t *testing.T) {
	driver, _, _, _ := newOrchestratorHarness(t)
	ctx := context.Background()
	const task = "T1"
	const mode = "hitl_full"

	afterRetrieval, err := driver.orchestrator.Resolve(ctx, task, PositionAfterRetrieval, mode)
	require.NoError(t, err)
	require.Len(t, afterRetrieval, 1)
	assert.Equal(t, "chunk_selector", afterRetrieval[0].ControlType)
	assert.Equal(t, StateOffered, afterRetrieval[0].State)

	result, err := driver.lifecycle.Submit(ctx, afterRetrieval[0].ID, []byte(`{"selected_node_ids":["n1","n2"]}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, result.Instance.State)

	afterGeneration, err := driver.orchestrator.Resolve(ctx, task, PositionAfterGeneration, mode)
	require.NoError(t, err)
	require.Len(t, afterGeneration, 1)
	assert.Equal(t, "summary_editor", afterGeneration[0].ControlType)

	result, err = driver.lifecycle.Submit(ctx, afterGeneration[0].ID, []byte(`{"edited_text":"Final text."}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, result.Instance.State)

	postGeneration, err := driver.orchestrator.Resolve(ctx, task, PositionPostGeneration, mode)
	require.NoError(t, err)
	require.Len(t, postGeneration, 1)
	assert.Equal(t, "questionnaire", postGeneration[0].ControlType)

	result, err = driver.lifecycle.Submit(ctx, postGeneration[0].ID, []byte(`{"confidence":"4","citation_helpfulness":"yes"}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, result.Instance.State)
}

// TestOrchestrator_S2ValidationDoesNotBurnRetry mirrors spec.md's
// custom-definition scenario: a required textarea field, max_retries=2.
func TestOrchestrator_S2ValidationDoesNotBurnRetry(t *testing.T) {
	driver, defs, _, _ := newOrchestratorHarness(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:      "reviewer_notes",
		PipelinePosition: PositionAfterGeneration,
		ApplicableModes:  NewJSONColumn([]string{AnyMode}),
		FieldSchema:      NewJSONColumn([]FieldDescriptor{{Key: "notes", Type: FieldTextarea, Required: true}}),
		MaxRetries:       2,
		Enabled:          true,
	}
	require.NoError(t, defs.Create(ctx, def))

	resolved, err := driver.orchestrator.Resolve(ctx, "T-s2", PositionAfterGeneration, "hitl_full")
	require.NoError(t, err)
	var inst *Instance
	for _, i := range resolved {
		if i.ControlType == "reviewer_notes" {
			inst = i
		}
	}
	require.NotNil(t, inst)

	result, err := driver.lifecycle.Submit(ctx, inst.ID, []byte(`{"notes":""}`))
	require.Error(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "notes", result.Issues[0].Key)
	assert.Equal(t, "This field is required.", result.Issues[0].Message)
	assert.Equal(t, 0, result.AttemptCount)

	ok, err := driver.lifecycle.Submit(ctx, inst.ID, []byte(`{"notes":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, ok.Instance.State)
}

// TestOrchestrator_S3NonApplicableMode: chunk_selector is not offered
// to a baseline-mode task, so the pipeline proceeds straight through.
func TestOrchestrator_S3NonApplicableMode(t *testing.T) {
	driver, _, _, _ := newOrchestratorHarness(t)
	ctx := context.Background()

	resolved, err := driver.orchestrator.Resolve(ctx, "T2", PositionAfterRetrieval, "baseline")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

// TestOrchestrator_S4SkipForbiddenOnRequired.
func TestOrchestrator_S4SkipForbiddenOnRequired(t *testing.T) {
	driver, _, instances, _ := newOrchestratorHarness(t)
	ctx := context.Background()

	resolved, err := driver.orchestrator.Resolve(ctx, "T4", PositionAfterRetrieval, "hitl_full")
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	_, err = driver.lifecycle.Skip(ctx, resolved[0].ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSkipNotAllowed))

	reread, err := instances.Get(ctx, resolved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StateOffered, reread.State)
}

// TestOrchestrator_S5CircuitBreakerTrips drives three distinct tasks to
// a terminal timeout against a threshold=3 definition; the fourth
// task's resolve no longer includes it.
func TestOrchestrator_S5CircuitBreakerTrips(t *testing.T) {
	driver, defs, _, breaker := newOrchestratorHarness(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:                 "flaky_gate",
		PipelinePosition:            PositionPostGeneration,
		ApplicableModes:             NewJSONColumn([]string{AnyMode}),
		MaxRetries:                  0,
		CircuitBreakerThreshold:     3,
		CircuitBreakerWindowMinutes: 60,
		Enabled:                     true,
	}
	require.NoError(t, defs.Create(ctx, def))

	for i, task := range []string{"T5a", "T5b", "T5c"} {
		resolved, err := driver.orchestrator.Resolve(ctx, task, PositionPostGeneration, "hitl_full")
		require.NoError(t, err)
		require.Len(t, resolved, 1, "task %s should still see the gate before it trips", task)

		_, err = driver.lifecycle.Timeout(ctx, resolved[0].ID)
		require.NoError(t, err)

		if i < 2 {
			assert.False(t, breaker.IsTripped(def.ID))
		}
	}

	got, err := defs.GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled, "third trip disables the definition")

	fourth, err := driver.orchestrator.Resolve(ctx, "T5d", PositionPostGeneration, "hitl_full")
	require.NoError(t, err)
	assert.Empty(t, fourth, "disabled definition must not surface for a new task")
}

// TestOrchestrator_S6TimeoutThenAutoSkip: an optional, zero-retry
// questionnaire times out, then the orchestrator (standing in for the
// pipeline) auto-skips it since it is optional.
func TestOrchestrator_S6TimeoutThenAutoSkip(t *testing.T) {
	driver, defs, _, _ := newOrchestratorHarness(t)
	ctx := context.Background()

	def := &Definition{
		ControlType:                 "optional_poll",
		PipelinePosition:            PositionPostGeneration,
		ApplicableModes:             NewJSONColumn([]string{AnyMode}),
		Required:                    false,
		TimeoutSeconds:              intPtr(30),
		MaxRetries:                  0,
		CircuitBreakerThreshold:     5,
		CircuitBreakerWindowMinutes: 60,
		Enabled:                     true,
	}
	require.NoError(t, defs.Create(ctx, def))

	resolved, err := driver.orchestrator.Resolve(ctx, "T6", PositionPostGeneration, "hitl_full")
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	timedOut, err := driver.lifecycle.Timeout(ctx, resolved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, timedOut.State)
	assert.Equal(t, 1, timedOut.AttemptCount)

	skipped, err := driver.lifecycle.Skip(ctx, timedOut.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, skipped.State)

	pending, err := driver.orchestrator.HasPending(ctx, "T6", PositionPostGeneration, "hitl_full")
	require.NoError(t, err)
	assert.False(t, pending, "pipeline may complete once the optional checkpoint is skipped")
}
