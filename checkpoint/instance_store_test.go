package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDefinitionForTest(t *testing.T, defs DefinitionStore, controlType string) *Definition {
	t.Helper()
	def := &Definition{
		ControlType:      controlType,
		PipelinePosition: PositionAfterRetrieval,
		ApplicableModes:  NewJSONColumn([]string{AnyMode}),
		FieldSchema:      NewJSONColumn([]FieldDescriptor{{Key: "notes", Type: FieldTextarea, Required: true}}),
		MaxRetries:       2,
		Enabled:          true,
	}
	require.NoError(t, defs.Create(context.Background(), def))
	return def
}

func TestInstanceStore_CreateIsIdempotent(t *testing.T) {
	defs, instances := newTestStores(t)
	def := seedDefinitionForTest(t, defs, "idempotent")
	ctx := context.Background()

	first, err := instances.Create(ctx, "task-1", def, nil)
	require.NoError(t, err)

	second, err := instances.Create(ctx, "task-1", def, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "second create must observe the first row")

	list, err := instances.ListForTask(ctx, "task-1", nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInstanceStore_CreateConcurrentYieldsOneRow(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single physical connection serializes the concurrent creates at
	// the driver level; the assertion under test is the application-level
	// idempotence guarantee (ON CONFLICT DO NOTHING + re-read), not
	// sqlite's own write concurrency.
	sqlDB.SetMaxOpenConns(1)

	defs := NewDefinitionStore(db, testLogger())
	instances := NewInstanceStore(db, testLogger())
	def := seedDefinitionForTest(t, defs, "racey")
	ctx := context.Background()

	const n = 8
	ids := make([]uint, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			inst, err := instances.Create(ctx, "task-race", def, nil)
			require.NoError(t, err)
			ids[i] = inst.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestInstanceStore_TransitionPersists(t *testing.T) {
	defs, instances := newTestStores(t)
	def := seedDefinitionForTest(t, defs, "transitionable")
	ctx := context.Background()

	inst, err := instances.Create(ctx, "task-2", def, nil)
	require.NoError(t, err)

	updated, err := instances.Transition(ctx, inst.ID, func(i *Instance) error {
		i.State = StateOffered
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateOffered, updated.State)

	reread, err := instances.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOffered, reread.State)
}

func TestInstanceStore_FreezesSchemaAtCreation(t *testing.T) {
	defs, instances := newTestStores(t)
	def := seedDefinitionForTest(t, defs, "frozen")
	ctx := context.Background()

	inst, err := instances.Create(ctx, "task-3", def, nil)
	require.NoError(t, err)
	require.Len(t, inst.FieldSchema.Val, 1)

	_, err = defs.Update(ctx, def.ID, DefinitionPatch{
		FieldSchema: &[]FieldDescriptor{{Key: "extra", Type: FieldText}},
	})
	require.NoError(t, err)

	reread, err := instances.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes", reread.FieldSchema.Val[0].Key, "existing instance keeps its frozen schema copy")
}
