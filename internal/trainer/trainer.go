// Package trainer implements the non-blocking evolutionary trainer: it
// interleaves genome evaluation with command handling by performing
// exactly one physics step per outer tick. There is no blocking evolve
// loop; each call to Tick advances at most one physics step and returns
// immediately, so EvolutionStop can preempt at the next tick boundary.
package trainer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/organism"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/world"
)

// FixedTimestep is the trainer's own physics step, independent of
// SimRunning's configurable timestep.
const FixedTimestep = 1.0 / 60.0

// nowFunc is indirected so tests can stamp deterministic CreatedAt
// values on a finalized training result.
var nowFunc = time.Now

// EvolutionConfig bounds one evolutionary run.
type EvolutionConfig struct {
	PopulationSize    int
	TournamentSize    int
	MaxGenerations    int
	MaxSimulationTime float64
	EnergyReference   float64
	WaterReference    float64
}

// PopulationSpec allocates one brain kind's share of the population:
// random_count individuals get fresh random genomes, the rest are
// seeded per the resume policy.
type PopulationSpec struct {
	BrainKind    string
	BrainVariant *string
	Count        int
	RandomCount  int
	Resume       organism.ResumePolicy
}

// Spec names what a run trains: which scenario, which organism type,
// and how the population is split across brain kinds.
type Spec struct {
	ScenarioID   string
	OrganismType string
	Population   []PopulationSpec
}

// Individual is one population member.
type Individual struct {
	BrainKind      string
	BrainVariant   *string
	Genome         genome.Genome
	AllowsMutation bool
}

// Broadcaster is the narrow fan-out seam the trainer needs; satisfied
// by transport.Server.Broadcast.
type Broadcaster interface {
	Broadcast(name string, body interface{})
}

// Progress is the EvolutionProgress broadcast body.
type Progress struct {
	Generation         int
	MaxGenerations     int
	CurrentEval        int
	PopulationSize     int
	BestFitnessThisGen float64
	BestFitnessAllTime float64
	AverageFitness     float64
	BestGenomeID       *uuid.UUID
}

// ResultAvailable is the TrainingResultAvailable broadcast body.
type ResultAvailable struct {
	Summary    trainingresult.Summary
	Candidates []trainingresult.Candidate
}

// Trainer owns all run state: the population and its fitness scores,
// generation/evaluation counters, the current evaluation World, timing,
// and the pending result built when the run completes.
type Trainer struct {
	config   EvolutionConfig
	mutation organism.MutationConfig
	spec     Spec

	population    []Individual
	fitnessScores []float64

	generation         int
	currentEval        int
	bestFitnessAllTime float64
	bestFitnessThisGen float64
	bestGenomeID       *uuid.UUID

	evalInProgress bool
	evalWorld      world.World
	evalScenario   world.Scenario
	evalOrganismID world.OrganismID
	evalSpawnX     float64
	evalSpawnY     float64
	evalLastX      float64
	evalLastY      float64
	evalSimTime    float64
	evalMaxEnergy  float64

	trainingStart     time.Time
	cumulativeSimTime float64
	trainingSessionID uuid.UUID

	rng       *rand.Rand
	brains    *organism.Registry
	genomes   *genome.Repository
	scenarios *world.Registry
	breaker   *gobreaker.CircuitBreaker

	broadcaster Broadcaster
	logger      *logging.Logger

	pendingResult  *trainingresult.Result
	pendingGenomes map[uuid.UUID]genome.Genome
	finished       bool
}

// Deps bundles the trainer's external collaborators so New's signature
// stays readable.
type Deps struct {
	Brains      *organism.Registry
	Genomes     *genome.Repository
	Scenarios   *world.Registry
	Broadcaster Broadcaster
	Logger      *logging.Logger
	Seed        int64
}

// New constructs a trainer and initializes its population. It never blocks
// more than one tick's worth of work; population seeding is pure
// in-memory bookkeeping.
func New(cfg EvolutionConfig, mut organism.MutationConfig, spec Spec, deps Deps) (*Trainer, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("trainer: population_size must be positive")
	}
	if cfg.MaxSimulationTime <= 0 {
		return nil, fmt.Errorf("trainer: max_simulation_time must be positive")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default("trainer")
	}

	seed := deps.Seed
	if seed == 0 {
		seed = 1
	}
	t := &Trainer{
		config:    cfg,
		mutation:  mut,
		spec:      spec,
		rng:       rand.New(rand.NewSource(seed)),
		brains:    deps.Brains,
		genomes:   deps.Genomes,
		scenarios: deps.Scenarios,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "trainer.world_construct",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		}),
		broadcaster:       deps.Broadcaster,
		logger:            logger.Component("trainer"),
		trainingSessionID: uuid.New(),
		trainingStart:     time.Now(),
	}

	if err := t.initPopulation(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) initPopulation() error {
	var pop []Individual
	for _, spec := range t.spec.Population {
		entry, ok := t.brains.Lookup(organism.Key{
			OrganismType: t.spec.OrganismType,
			BrainKind:    spec.BrainKind,
			BrainVariant: variantString(spec.BrainVariant),
		})
		if !ok {
			return fmt.Errorf("trainer: no brain registered for %s/%s", t.spec.OrganismType, spec.BrainKind)
		}
		for i := 0; i < spec.Count; i++ {
			var g genome.Genome
			if i < spec.RandomCount || !entry.AllowsMutation {
				g = entry.CreateRandom(t.rng)
			} else {
				g = t.seedFromResumePolicy(entry, spec.Resume)
			}
			pop = append(pop, Individual{
				BrainKind:      spec.BrainKind,
				BrainVariant:   spec.BrainVariant,
				Genome:         g,
				AllowsMutation: entry.AllowsMutation,
			})
		}
	}
	if len(pop) != t.config.PopulationSize {
		return fmt.Errorf("trainer: population spec produced %d individuals, want %d", len(pop), t.config.PopulationSize)
	}
	t.population = pop
	t.fitnessScores = make([]float64, len(pop))
	return nil
}

func (t *Trainer) seedFromResumePolicy(entry *organism.Entry, policy organism.ResumePolicy) genome.Genome {
	if policy == organism.WarmFromBest && t.genomes != nil {
		if g, meta, ok := t.genomes.GetBest(); ok && meta.OrganismType == t.spec.OrganismType && entry.IsCompatible(g) {
			return g.Clone()
		}
	}
	return entry.CreateRandom(t.rng)
}

func variantString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Finished reports whether the run has produced a pending training
// result and the state machine should transition to
// UnsavedTrainingResult.
func (t *Trainer) Finished() bool { return t.finished }

// PendingResult returns the finalized result; valid only after Finished().
func (t *Trainer) PendingResult() *trainingresult.Result { return t.pendingResult }

// PendingCandidateGenomes maps each pending candidate's id to the
// genome it evolved; TrainingResultSave copies the selected entries
// into the genome repository.
func (t *Trainer) PendingCandidateGenomes() map[uuid.UUID]genome.Genome { return t.pendingGenomes }

// Generation/CurrentEval/BestFitnessAllTime expose read-only progress
// for StatusGet/PerfStatsGet.
func (t *Trainer) Generation() int             { return t.generation }
func (t *Trainer) CurrentEval() int            { return t.currentEval }
func (t *Trainer) BestFitnessAllTime() float64 { return t.bestFitnessAllTime }
func (t *Trainer) EvalInProgress() bool        { return t.evalInProgress }
func (t *Trainer) EvalSimTime() float64        { return t.evalSimTime }
