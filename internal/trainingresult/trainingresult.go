// Package trainingresult implements the training-result repository: a
// keyed store of training-session results with two interchangeable
// backends, an in-memory slice and a SQLite file.
package trainingresult

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the store's single-integer version field. A record
// whose version the repository does not recognize is rejected rather
// than migrated.
const SchemaVersion = 1

// Candidate is one evolved individual offered for saving.
type Candidate struct {
	ID           uuid.UUID
	Fitness      float64
	BrainKind    string
	BrainVariant *string
	Generation   int
}

// Summary is the per-session rollup persisted with each result.
type Summary struct {
	ScenarioID           string
	OrganismType         string
	PopulationSize       int
	MaxGenerations       int
	CompletedGenerations int
	BestFitness          float64
	AverageFitness       float64
	TotalTrainingSeconds float64
	PrimaryBrainKind     string
	PrimaryBrainVariant  *string
	TrainingSessionID    uuid.UUID
}

// Result is one persisted training-session row.
type Result struct {
	Summary       Summary
	Candidates    []Candidate
	CreatedAt     time.Time
	SchemaVersion int
}

// Repository is the interchangeable memory/durable backend interface
// . Every operation returns (T, error) rather than panicking
// or letting a backend-specific exception escape.
type Repository interface {
	Store(r Result) error
	Exists(id uuid.UUID) (bool, error)
	Get(id uuid.UUID) (Result, error)
	// List returns rows ordered by CreatedAt descending.
	List() ([]Result, error)
	// Remove reports whether a row matched.
	Remove(id uuid.UUID) (bool, error)
	Close() error
}
