package trainer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/organism"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/wire"
	"github.com/aortez/dirtsim/internal/world"
)

// Tick runs one outer-tick iteration: start an evaluation if none is
// in progress, advance one physics step, check for termination, and
// roll generations/finalize as needed. It never blocks longer than one
// physics step's duration.
func (t *Trainer) Tick() *wire.ApiError {
	if t.finished {
		return nil
	}

	if !t.evalInProgress {
		if err := t.startEvaluation(); err != nil {
			return err
		}
	}

	t.stepEvaluation()

	if t.evaluationDone() {
		t.finishEvaluation()
	}

	return nil
}

func (t *Trainer) startEvaluation() *wire.ApiError {
	entry, ok := t.brains.Lookup(t.currentBrainKey())
	if !ok {
		return wire.ResourceUnavailable("no brain registered for %s", t.currentBrainKey())
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.constructEvalWorld(entry)
	})
	if err != nil {
		t.logger.Error("eval world construction failed", logging.Err(err))
		return wire.Validation("world construction failed: %v", err)
	}
	ew := result.(*evalWorldBundle)

	t.evalWorld = ew.w
	t.evalScenario = ew.scenario
	t.evalOrganismID = ew.organismID
	t.evalSpawnX = ew.x
	t.evalSpawnY = ew.y
	t.evalLastX = ew.x
	t.evalLastY = ew.y
	t.evalSimTime = 0
	t.evalMaxEnergy = 0
	t.evalInProgress = true
	return nil
}

type evalWorldBundle struct {
	w          world.World
	scenario   world.Scenario
	organismID world.OrganismID
	x, y       float64
}

func (t *Trainer) currentBrainKey() organism.Key {
	ind := t.population[t.currentEval]
	return organism.Key{
		OrganismType: t.spec.OrganismType,
		BrainKind:    ind.BrainKind,
		BrainVariant: variantString(ind.BrainVariant),
	}
}

func (t *Trainer) constructEvalWorld(entry *organism.Entry) (*evalWorldBundle, error) {
	scenario, err := t.scenarios.New(t.spec.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("resolve scenario %q: %w", t.spec.ScenarioID, err)
	}
	w, h := scenario.RequiredSize()
	ew, err := world.NewGridWorld(w, h)
	if err != nil {
		return nil, fmt.Errorf("construct world: %w", err)
	}
	if err := scenario.Install(ew); err != nil {
		return nil, fmt.Errorf("install scenario: %w", err)
	}

	x, y := t.chooseSpawnPosition(ew, entry)

	ind := t.population[t.currentEval]
	g := ind.Genome
	id, err := entry.Spawn(ew, x, y, &g)
	if err != nil {
		return nil, fmt.Errorf("spawn organism: %w", err)
	}

	return &evalWorldBundle{w: ew, scenario: scenario, organismID: id, x: x, y: y}, nil
}

// chooseSpawnPosition places scenario-driven (tree-like) organisms at
// the nearest air cell to the world center, preferring the top half and
// falling back to the bottom half. Other organism types spawn at the
// world center.
func (t *Trainer) chooseSpawnPosition(w world.World, entry *organism.Entry) (float64, float64) {
	if entry.ControlMode == organism.ScenarioDriven {
		if x, y, ok := world.NearestAirToCenter(w); ok {
			return float64(x), float64(y)
		}
	}
	return float64(w.Width()) / 2, float64(w.Height()) / 2
}

func (t *Trainer) stepEvaluation() {
	t.evalWorld.AdvanceTime(FixedTimestep)
	t.evalScenario.Tick(t.evalWorld, FixedTimestep)
	t.evalSimTime += FixedTimestep
	t.cumulativeSimTime += FixedTimestep

	if x, y, ok := t.evalWorld.Organisms().Position(t.evalOrganismID); ok {
		t.evalLastX, t.evalLastY = x, y
	}
	if e, ok := energyOf(t.evalWorld, t.evalOrganismID); ok && e > t.evalMaxEnergy {
		t.evalMaxEnergy = e
	}
}

// energyOf reads organism energy when the concrete World exposes it
// (world.GridWorld's organism table does); other World implementations
// simply report "not tracked" and tree energy terms stay at zero.
func energyOf(w world.World, id world.OrganismID) (float64, bool) {
	type energyReader interface {
		Energy(id world.OrganismID) (float64, bool)
	}
	if gw, ok := w.Organisms().(energyReader); ok {
		return gw.Energy(id)
	}
	return 0, false
}

// treeStatsOf narrows to the tree growth telemetry the same way
// energyOf narrows to energy; World implementations without it leave
// the stage/structure/resource fitness terms at zero.
func treeStatsOf(w world.World, id world.OrganismID) (world.TreeStats, bool) {
	type treeStatsReader interface {
		TreeStats(id world.OrganismID) (world.TreeStats, bool)
	}
	if gw, ok := w.Organisms().(treeStatsReader); ok {
		return gw.TreeStats(id)
	}
	return world.TreeStats{}, false
}

// developmentalStage maps the World's growth-stage telemetry onto the
// fitness formula's stage-bonus enum.
func developmentalStage(stage world.TreeStage) organism.DevelopmentalStage {
	switch stage {
	case world.TreeStageMature:
		return organism.StageMature
	case world.TreeStageSprout:
		return organism.StageSprout
	default:
		return organism.StageSeed
	}
}

// evaluationDone: the organism died, or max_simulation_time elapsed.
func (t *Trainer) evaluationDone() bool {
	if !t.evalWorld.Organisms().Alive(t.evalOrganismID) {
		return true
	}
	return t.evalSimTime >= t.config.MaxSimulationTime
}

func (t *Trainer) finishEvaluation() {
	fitness := t.computeFitness()
	if math.IsNaN(fitness) || math.IsInf(fitness, 0) {
		t.logger.Warn("fitness diverged, clamping to zero", logging.Int("eval", t.currentEval))
		fitness = 0
	}
	t.fitnessScores[t.currentEval] = fitness

	if fitness > t.bestFitnessThisGen || t.currentEval == 0 {
		t.bestFitnessThisGen = fitness
	}
	if fitness > t.bestFitnessAllTime {
		t.bestFitnessAllTime = fitness
		id := uuid.New()
		t.bestGenomeID = &id
		if t.genomes != nil {
			ind := t.population[t.currentEval]
			t.genomes.Store(id, ind.Genome.Clone(), genome.Metadata{
				Fitness:           fitness,
				Generation:        t.generation,
				ScenarioID:        t.spec.ScenarioID,
				OrganismType:      t.spec.OrganismType,
				BrainKind:         ind.BrainKind,
				BrainVariant:      ind.BrainVariant,
				TrainingSessionID: t.trainingSessionID,
			})
			t.genomes.MarkAsBest(id)
		}
	}

	t.evalInProgress = false
	t.evalWorld = nil
	t.evalScenario = nil
	t.currentEval++

	t.broadcastProgress()

	if t.currentEval == len(t.population) {
		t.advanceGeneration()
	}
}

func (t *Trainer) computeFitness() float64 {
	ind := t.population[t.currentEval]
	entry, ok := t.brains.Lookup(organism.Key{
		OrganismType: t.spec.OrganismType,
		BrainKind:    ind.BrainKind,
		BrainVariant: variantString(ind.BrainVariant),
	})
	if !ok {
		return 0
	}

	distance := math.Hypot(t.evalLastX-t.evalSpawnX, t.evalLastY-t.evalSpawnY)

	if entry.ControlMode == organism.ScenarioDriven {
		// Read the growth telemetry from the evaluation World before
		// it is torn down; final energy is the live reading at
		// termination, distinct from the running maximum.
		finalEnergy, _ := energyOf(t.evalWorld, t.evalOrganismID)
		stats, _ := treeStatsOf(t.evalWorld, t.evalOrganismID)
		return organism.TreeFitness(organism.TreeFitnessInputs{
			Lifespan:          t.evalSimTime,
			MaxSimulationTime: t.config.MaxSimulationTime,
			MaxEnergy:         t.evalMaxEnergy,
			FinalEnergy:       finalEnergy,
			EnergyReference:   t.config.EnergyReference,
			EnergyProduced:    stats.EnergyProduced,
			WaterAbsorbed:     stats.WaterAbsorbed,
			WaterReference:    t.config.WaterReference,
			CommandsAccepted:  stats.CommandsAccepted,
			CommandsRejected:  stats.CommandsRejected,
			Stage:             developmentalStage(stats.Stage),
			HasSeed:           stats.HasSeed,
			HasLeaf:           stats.HasLeaf,
			HasRoot:           stats.HasRoot,
			HasWoodAboveSeed:  stats.HasWoodAboveSeed,
		})
	}

	return organism.MobileFitness(organism.MobileFitnessInputs{
		Lifespan:          t.evalSimTime,
		MaxSimulationTime: t.config.MaxSimulationTime,
		DistanceTraveled:  distance,
		WorldWidth:        float64(t.evalWorld.Width()),
		WorldHeight:       float64(t.evalWorld.Height()),
	})
}

func (t *Trainer) broadcastProgress() {
	if t.broadcaster == nil {
		return
	}
	avg := 0.0
	for _, f := range t.fitnessScores[:t.currentEval] {
		avg += f
	}
	if t.currentEval > 0 {
		avg /= float64(t.currentEval)
	}
	t.broadcaster.Broadcast("EvolutionProgress", Progress{
		Generation:         t.generation,
		MaxGenerations:     t.config.MaxGenerations,
		CurrentEval:        t.currentEval,
		PopulationSize:     len(t.population),
		BestFitnessThisGen: t.bestFitnessThisGen,
		BestFitnessAllTime: t.bestFitnessAllTime,
		AverageFitness:     avg,
		BestGenomeID:       t.bestGenomeID,
	})
}

func (t *Trainer) advanceGeneration() {
	parents := t.population
	fitness := t.fitnessScores

	eliteIdx := organism.SortByFitnessDescending(fitness)[0]
	elite := parents[eliteIdx]

	next := make([]Individual, 0, len(parents))
	next = append(next, Individual{
		BrainKind:      elite.BrainKind,
		BrainVariant:   elite.BrainVariant,
		Genome:         elite.Genome.Clone(),
		AllowsMutation: elite.AllowsMutation,
	})

	for len(next) < len(parents) {
		parentIdx := organism.TournamentSelect(t.rng, fitness, t.config.TournamentSize)
		parent := parents[parentIdx]
		child := parent.Genome.Clone()
		if parent.AllowsMutation {
			entry, ok := t.brains.Lookup(organism.Key{
				OrganismType: t.spec.OrganismType,
				BrainKind:    parent.BrainKind,
				BrainVariant: variantString(parent.BrainVariant),
			})
			var fresh func(*rand.Rand) genome.Genome
			if ok {
				fresh = entry.CreateRandom
			}
			organism.Mutate(t.rng, &child, t.mutation, fresh)
		}
		next = append(next, Individual{
			BrainKind:      parent.BrainKind,
			BrainVariant:   parent.BrainVariant,
			Genome:         child,
			AllowsMutation: parent.AllowsMutation,
		})
	}

	t.generation++

	// finalize reports on the generation that was just evaluated
	// (parents/fitness), never the freshly bred, not-yet-evaluated next
	// generation.
	if t.generation == t.config.MaxGenerations {
		t.finalize(parents, fitness)
		return
	}

	t.population = next
	t.fitnessScores = make([]float64, len(next))
	t.currentEval = 0
	t.bestFitnessThisGen = 0
}

func (t *Trainer) finalize(population []Individual, fitness []float64) {
	var best, sum float64
	candidates := make([]trainingresult.Candidate, len(population))
	genomes := make(map[uuid.UUID]genome.Genome, len(population))
	for i, ind := range population {
		f := fitness[i]
		sum += f
		if f > best {
			best = f
		}
		candidates[i] = trainingresult.Candidate{
			ID:           uuid.New(),
			Fitness:      f,
			BrainKind:    ind.BrainKind,
			BrainVariant: ind.BrainVariant,
			Generation:   t.generation,
		}
		genomes[candidates[i].ID] = ind.Genome.Clone()
	}
	avg := 0.0
	if len(population) > 0 {
		avg = sum / float64(len(population))
	}

	primaryKind := ""
	var primaryVariant *string
	if len(population) > 0 {
		primaryKind = population[0].BrainKind
		primaryVariant = population[0].BrainVariant
	}

	summary := trainingresult.Summary{
		ScenarioID:           t.spec.ScenarioID,
		OrganismType:         t.spec.OrganismType,
		PopulationSize:       len(population),
		MaxGenerations:       t.config.MaxGenerations,
		CompletedGenerations: t.generation,
		BestFitness:          best,
		AverageFitness:       avg,
		TotalTrainingSeconds: t.cumulativeSimTime,
		PrimaryBrainKind:     primaryKind,
		PrimaryBrainVariant:  primaryVariant,
		TrainingSessionID:    t.trainingSessionID,
	}

	t.pendingResult = &trainingresult.Result{
		Summary:       summary,
		Candidates:    candidates,
		CreatedAt:     nowFunc(),
		SchemaVersion: trainingresult.SchemaVersion,
	}
	t.pendingGenomes = genomes
	t.finished = true

	if t.broadcaster != nil {
		t.broadcaster.Broadcast("TrainingResultAvailable", ResultAvailable{Summary: summary, Candidates: candidates})
	}
}
