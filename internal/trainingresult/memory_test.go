package trainingresult

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResult(sessionID uuid.UUID, createdAt time.Time) Result {
	return Result{
		Summary: Summary{
			ScenarioID:        "flat-ground",
			OrganismType:      "duck",
			TrainingSessionID: sessionID,
			BestFitness:       4.2,
		},
		Candidates: []Candidate{
			{ID: uuid.New(), Fitness: 4.2, BrainKind: "feedforward", Generation: 10},
		},
		CreatedAt: createdAt,
	}
}

func TestMemoryRepository_StoreListGetRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	id := uuid.New()
	r := newResult(id, time.Unix(1000, 0))

	require.NoError(t, repo.Store(r))

	rows, err := repo.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, r.Summary, rows[0].Summary)
	assert.Equal(t, SchemaVersion, rows[0].SchemaVersion)

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, r.Candidates, got.Candidates)
}

func TestMemoryRepository_ListOrderedByCreatedAtDescending(t *testing.T) {
	repo := NewMemoryRepository()
	older := newResult(uuid.New(), time.Unix(100, 0))
	newer := newResult(uuid.New(), time.Unix(200, 0))

	require.NoError(t, repo.Store(older))
	require.NoError(t, repo.Store(newer))

	rows, err := repo.List()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.Summary.TrainingSessionID, rows[0].Summary.TrainingSessionID)
	assert.Equal(t, older.Summary.TrainingSessionID, rows[1].Summary.TrainingSessionID)
}

func TestMemoryRepository_StoreUpsertsOnSameSessionID(t *testing.T) {
	repo := NewMemoryRepository()
	id := uuid.New()
	first := newResult(id, time.Unix(1, 0))
	second := first
	second.Summary.BestFitness = 9.9

	require.NoError(t, repo.Store(first))
	require.NoError(t, repo.Store(second))

	rows, err := repo.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9.9, rows[0].Summary.BestFitness)
}

func TestMemoryRepository_RemoveReportsMatch(t *testing.T) {
	repo := NewMemoryRepository()
	id := uuid.New()
	require.NoError(t, repo.Store(newResult(id, time.Unix(1, 0))))

	removed, err := repo.Remove(id)
	require.NoError(t, err)
	assert.True(t, removed)

	removedAgain, err := repo.Remove(id)
	require.NoError(t, err)
	assert.False(t, removedAgain)

	exists, err := repo.Exists(id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryRepository_GetMissingReturnsError(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Get(uuid.New())
	assert.Error(t, err)
}

func TestMemoryRepository_StoreRejectsUnknownSchemaVersion(t *testing.T) {
	repo := NewMemoryRepository()
	r := newResult(uuid.New(), time.Unix(1, 0))
	r.SchemaVersion = 99

	err := repo.Store(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")

	rows, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, rows)
}
