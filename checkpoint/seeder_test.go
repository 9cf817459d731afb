package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeeder_FreshDBYieldsThreeDefinitions(t *testing.T) {
	defs, _ := newTestStores(t)
	seeder := NewSeeder(defs, testLogger())
	ctx := context.Background()

	require.NoError(t, seeder.Seed(ctx))

	list, err := defs.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, len(builtinSeeds))

	got, err := defs.GetByControlType(ctx, "chunk_selector")
	require.NoError(t, err)
	assert.Equal(t, PositionAfterRetrieval, got.PipelinePosition)
	assert.True(t, got.Required)
	assert.Equal(t, DefaultCircuitBreakerThreshold, got.CircuitBreakerThreshold)
}

func TestSeeder_RunningAgainChangesNothing(t *testing.T) {
	defs, _ := newTestStores(t)
	seeder := NewSeeder(defs, testLogger())
	ctx := context.Background()

	require.NoError(t, seeder.Seed(ctx))
	before, err := defs.List(ctx, true)
	require.NoError(t, err)

	require.NoError(t, seeder.Seed(ctx))
	after, err := defs.List(ctx, true)
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].UpdatedAt, after[i].UpdatedAt, "reseeding must not touch existing rows")
	}
}

func TestSeeder_AdminEditsSurviveReseed(t *testing.T) {
	defs, _ := newTestStores(t)
	seeder := NewSeeder(defs, testLogger())
	ctx := context.Background()

	require.NoError(t, seeder.Seed(ctx))

	def, err := defs.GetByControlType(ctx, "questionnaire")
	require.NoError(t, err)
	newLabel := "Custom label set by an admin"
	_, err = defs.Update(ctx, def.ID, DefinitionPatch{Label: &newLabel})
	require.NoError(t, err)

	require.NoError(t, seeder.Seed(ctx))

	reread, err := defs.GetByControlType(ctx, "questionnaire")
	require.NoError(t, err)
	assert.Equal(t, newLabel, reread.Label, "reseeding must not overwrite admin edits")
}
