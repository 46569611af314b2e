// Package genome implements the in-memory genome repository: a
// UUID-keyed store of evolved weight vectors plus metadata, with a
// single "best" pointer that always names a currently-stored genome.
package genome

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is a v4 UUID identifying one genome across sessions.
type ID = uuid.UUID

// Genome is a flat vector of floating-point controller weights.
type Genome struct {
	Weights []float64
}

// Clone returns a deep copy, since mutation must never alias a genome
// still referenced by the repository or another individual.
func (g Genome) Clone() Genome {
	w := make([]float64, len(g.Weights))
	copy(w, g.Weights)
	return Genome{Weights: w}
}

// Metadata is the non-weight bookkeeping attached to a stored Genome.
type Metadata struct {
	DisplayName           string
	Fitness               float64
	RobustEvalCount       int
	RobustFitnessVariance float64
	Generation            int
	ScenarioID            string
	OrganismType          string
	BrainKind             string
	BrainVariant          *string
	CreatedAt             time.Time
	TrainingSessionID     uuid.UUID
	Notes                 *string
}

type entry struct {
	genome Genome
	meta   Metadata
}

// Repository is the in-memory GenomeId -> (Genome, Metadata) map plus an
// optional best-genome pointer.
type Repository struct {
	mu      sync.RWMutex
	entries map[ID]entry
	best    *ID
}

func NewRepository() *Repository {
	return &Repository{entries: make(map[ID]entry)}
}

// Store upserts a genome and its metadata.
func (r *Repository) Store(id ID, g Genome, m Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry{genome: g, meta: m}
}

func (r *Repository) Exists(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Repository) Get(id ID) (Genome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Genome{}, false
	}
	return e.genome.Clone(), true
}

func (r *Repository) GetMetadata(id ID) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.meta, ok
}

// Record pairs a genome with its metadata for List results.
type Record struct {
	ID       ID
	Genome   Genome
	Metadata Metadata
}

// List returns every stored genome, unordered.
func (r *Repository) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Record{ID: id, Genome: e.genome.Clone(), Metadata: e.meta})
	}
	return out
}

// Remove deletes a genome and clears the best pointer if it pointed at
// the removed id.
func (r *Repository) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	if r.best != nil && *r.best == id {
		r.best = nil
	}
}

// Clear drops every genome and the best pointer.
func (r *Repository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[ID]entry)
	r.best = nil
}

// MarkAsBest designates id as the best-known genome; a no-op if id is
// not currently stored.
func (r *Repository) MarkAsBest(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	best := id
	r.best = &best
}

func (r *Repository) GetBestID() (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.best == nil {
		return ID{}, false
	}
	return *r.best, true
}

func (r *Repository) GetBest() (Genome, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.best == nil {
		return Genome{}, Metadata{}, false
	}
	e, ok := r.entries[*r.best]
	if !ok {
		return Genome{}, Metadata{}, false
	}
	return e.genome.Clone(), e.meta, true
}
