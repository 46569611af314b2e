package trainingresult

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is the non-durable backend: identical observable
// behavior to the SQLite backend, stored as a guarded slice.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []Result
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Store(r Result) error {
	if r.SchemaVersion != 0 && r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("trainingresult: unsupported record schema version %d (want %d)", r.SchemaVersion, SchemaVersion)
	}
	if r.SchemaVersion == 0 {
		r.SchemaVersion = SchemaVersion
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rows {
		if existing.Summary.TrainingSessionID == r.Summary.TrainingSessionID {
			m.rows[i] = r
			return nil
		}
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *MemoryRepository) Exists(id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Summary.TrainingSessionID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) Get(id uuid.UUID) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Summary.TrainingSessionID == id {
			return r, nil
		}
	}
	return Result{}, fmt.Errorf("trainingresult: no result for session %s", id)
}

func (m *MemoryRepository) List() ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.rows))
	copy(out, m.rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Remove(id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.Summary.TrainingSessionID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
