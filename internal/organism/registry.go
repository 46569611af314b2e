// Package organism implements the brain registry and fitness functions
// the evolutionary trainer drives, keyed by (organism type, brain kind,
// brain variant).
package organism

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/world"
)

// ControlMode distinguishes brains whose genome drives the organism
// directly from ones where the scenario itself drives behavior and the
// genome only tunes parameters.
type ControlMode string

const (
	OrganismDriven ControlMode = "organism"
	ScenarioDriven ControlMode = "scenario"
)

// ResumePolicy selects how a brain's population slot is seeded at the
// start of a run.
type ResumePolicy string

const (
	Fresh        ResumePolicy = "Fresh"
	WarmFromBest ResumePolicy = "WarmFromBest"
)

// Key identifies one brain registry entry.
type Key struct {
	OrganismType string
	BrainKind    string
	BrainVariant string // "" means "no variant"
}

func (k Key) String() string {
	if k.BrainVariant == "" {
		return fmt.Sprintf("%s/%s", k.OrganismType, k.BrainKind)
	}
	return fmt.Sprintf("%s/%s/%s", k.OrganismType, k.BrainKind, k.BrainVariant)
}

// Entry is one brain registration: how to spawn it, how to create a
// fresh random genome, whether a given genome is compatible with it,
// and its behavioral flags.
type Entry struct {
	Key Key

	GenomeLength int
	Spawn        func(w world.World, x, y float64, g *genome.Genome) (world.OrganismID, error)
	CreateRandom func(rng *rand.Rand) genome.Genome
	IsCompatible func(g genome.Genome) bool

	RequiresGenome bool
	AllowsMutation bool
	ControlMode    ControlMode
}

// Registry is the (organism type, brain kind, brain variant) -> Entry
// table.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*Entry)}
}

func (r *Registry) Register(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key] = e
}

func (r *Registry) Lookup(key Key) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// DefaultRegistry builds the registry populated with the three entries
// the trainer evolves, across two brain kinds: a generic mobile
// controller registered for both duck and goose, and a tree controller.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	mobileSpawn := func(organismType string) func(world.World, float64, float64, *genome.Genome) (world.OrganismID, error) {
		return func(w world.World, x, y float64, g *genome.Genome) (world.OrganismID, error) {
			return w.Organisms().Spawn(organismType, x, y)
		}
	}
	mobileRandom := func(rng *rand.Rand) genome.Genome {
		return randomGenome(rng, 24)
	}

	r.Register(&Entry{
		Key:            Key{OrganismType: "duck", BrainKind: "mobile"},
		GenomeLength:   24,
		Spawn:          mobileSpawn("duck"),
		CreateRandom:   mobileRandom,
		IsCompatible:   compatibleLength(24),
		RequiresGenome: true,
		AllowsMutation: true,
		ControlMode:    OrganismDriven,
	})
	r.Register(&Entry{
		Key:            Key{OrganismType: "goose", BrainKind: "mobile"},
		GenomeLength:   24,
		Spawn:          mobileSpawn("goose"),
		CreateRandom:   mobileRandom,
		IsCompatible:   compatibleLength(24),
		RequiresGenome: true,
		AllowsMutation: true,
		ControlMode:    OrganismDriven,
	})
	r.Register(&Entry{
		Key:          Key{OrganismType: "tree", BrainKind: "developmental"},
		GenomeLength: 40,
		Spawn: func(w world.World, x, y float64, g *genome.Genome) (world.OrganismID, error) {
			return w.Organisms().Spawn("tree", x, y)
		},
		CreateRandom:   func(rng *rand.Rand) genome.Genome { return randomGenome(rng, 40) },
		IsCompatible:   compatibleLength(40),
		RequiresGenome: true,
		AllowsMutation: true,
		ControlMode:    ScenarioDriven,
	})

	return r
}

func compatibleLength(n int) func(genome.Genome) bool {
	return func(g genome.Genome) bool { return len(g.Weights) == n }
}

func randomGenome(rng *rand.Rand, n int) genome.Genome {
	w := make([]float64, n)
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	return genome.Genome{Weights: w}
}
