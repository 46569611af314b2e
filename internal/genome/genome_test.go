package genome

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenome_CloneIsIndependent(t *testing.T) {
	g := Genome{Weights: []float64{1, 2, 3}}
	clone := g.Clone()
	clone.Weights[0] = 99

	assert.Equal(t, float64(1), g.Weights[0])
	assert.Equal(t, float64(99), clone.Weights[0])
}

func TestRepository_StoreGetRoundTrip(t *testing.T) {
	r := NewRepository()
	id := uuid.New()
	g := Genome{Weights: []float64{0.5, -0.5}}
	m := Metadata{DisplayName: "duck-1", Fitness: 3.2}

	r.Store(id, g, m)

	assert.True(t, r.Exists(id))
	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, g.Weights, got.Weights)

	gotMeta, ok := r.GetMetadata(id)
	require.True(t, ok)
	assert.Equal(t, m, gotMeta)
}

func TestRepository_MarkAsBestIgnoresUnknownID(t *testing.T) {
	r := NewRepository()
	r.MarkAsBest(uuid.New())

	_, ok := r.GetBestID()
	assert.False(t, ok)
}

func TestRepository_RemovingBestClearsBestPointer(t *testing.T) {
	r := NewRepository()
	id := uuid.New()
	r.Store(id, Genome{Weights: []float64{1}}, Metadata{})
	r.MarkAsBest(id)

	best, ok := r.GetBestID()
	require.True(t, ok)
	assert.Equal(t, id, best)

	r.Remove(id)

	_, ok = r.GetBestID()
	assert.False(t, ok)
	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestRepository_GetBestReturnsClone(t *testing.T) {
	r := NewRepository()
	id := uuid.New()
	r.Store(id, Genome{Weights: []float64{1, 2}}, Metadata{Fitness: 9})
	r.MarkAsBest(id)

	g, m, ok := r.GetBest()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, g.Weights)
	assert.Equal(t, 9.0, m.Fitness)

	g.Weights[0] = 100
	g2, _, _ := r.GetBest()
	assert.Equal(t, 1.0, g2.Weights[0])
}

func TestRepository_ClearDropsEverything(t *testing.T) {
	r := NewRepository()
	id := uuid.New()
	r.Store(id, Genome{Weights: []float64{1}}, Metadata{})
	r.MarkAsBest(id)

	r.Clear()

	assert.Empty(t, r.List())
	_, ok := r.GetBestID()
	assert.False(t, ok)
}

func TestRepository_ListReturnsAllStored(t *testing.T) {
	r := NewRepository()
	idA, idB := uuid.New(), uuid.New()
	r.Store(idA, Genome{Weights: []float64{1}}, Metadata{DisplayName: "a"})
	r.Store(idB, Genome{Weights: []float64{2}}, Metadata{DisplayName: "b"})

	records := r.List()
	assert.Len(t, records, 2)

	names := map[string]bool{}
	for _, rec := range records {
		names[rec.Metadata.DisplayName] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
}
