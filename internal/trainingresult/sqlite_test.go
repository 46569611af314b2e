package trainingresult

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_StoreGetRoundTripIsByteForByte(t *testing.T) {
	repo := openTestSQLite(t)
	id := uuid.New()
	r := newResult(id, time.Unix(500, 0))

	require.NoError(t, repo.Store(r))

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, r.Summary, got.Summary)
	assert.Equal(t, r.Candidates, got.Candidates)
	assert.Equal(t, r.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
}

func TestSQLiteRepository_ListOrderedByCreatedAtDescending(t *testing.T) {
	repo := openTestSQLite(t)
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

func TestSQLiteRepository_StoreUpsertsOnSameSessionID(t *testing.T) {
	repo := openTestSQLite(t)
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

func TestSQLiteRepository_RemoveReportsMatch(t *testing.T) {
	repo := openTestSQLite(t)
	id := uuid.New()
	require.NoError(t, repo.Store(newResult(id, time.Unix(1, 0))))

	removed, err := repo.Remove(id)
	require.NoError(t, err)
	assert.True(t, removed)

	exists, err := repo.Exists(id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteRepository_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	id := uuid.New()

	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, repo.Store(newResult(id, time.Unix(42, 0))))
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	exists, err := reopened.Exists(id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteRepository_StoreRejectsUnknownSchemaVersion(t *testing.T) {
	repo := openTestSQLite(t)
	r := newResult(uuid.New(), time.Unix(1, 0))
	r.SchemaVersion = 99

	err := repo.Store(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

// TestOpenSQLite_RefusesUnknownSchemaVersion tampers with the version
// table between opens: a store stamped with a version this build does
// not recognize is refused rather than migrated.
func TestOpenSQLite_RefusesUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = repo.db.Exec(`UPDATE schema_version SET version = 99`)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = OpenSQLite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}
