package world

import "sync"

// organism is the minimal state the trivial OrganismManager tracks:
// enough for the trainer to ask "is it alive" and "where is it" without
// needing the real cell-owned-structure organism bodies. Trees
// additionally accumulate the growth telemetry TreeStats reports.
type organism struct {
	kind   string
	x, y   float64
	energy float64
	alive  bool

	age            float64
	energyProduced float64
	waterAbsorbed  float64
}

// Growth-model tuning for the minimal tree: stage thresholds in sim
// seconds and per-second production/absorption rates.
const (
	treeSproutAge  = 0.25
	treeMatureAge  = 0.6
	treeEnergyRate = 0.5
	treeWaterRate  = 0.3
	organismDecay  = 0.01
	mobileSpeedX   = 4.0
	mobileSpeedY   = 1.0
)

// TreeStage is the developmental stage a minimal tree has reached.
type TreeStage int

const (
	TreeStageSeed TreeStage = iota
	TreeStageSprout
	TreeStageMature
)

// TreeStats is the growth telemetry tree fitness reads: developmental
// stage, which structural parts exist, and cumulative resource intake.
// The minimal GridWorld has no organism command stream, so the command
// counters stay zero until the real cellular-physics engine supplies
// them.
type TreeStats struct {
	Stage            TreeStage
	HasSeed          bool
	HasLeaf          bool
	HasRoot          bool
	HasWoodAboveSeed bool
	EnergyProduced   float64
	WaterAbsorbed    float64
	CommandsAccepted int
	CommandsRejected int
}

type organismTable struct {
	mu     sync.Mutex
	nextID OrganismID
	byID   map[OrganismID]*organism
}

func newOrganismTable() *organismTable {
	return &organismTable{byID: make(map[OrganismID]*organism)}
}

func (t *organismTable) Spawn(organismType string, x, y float64) (OrganismID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byID[id] = &organism{kind: organismType, x: x, y: y, energy: 1.0, alive: true}
	return id, nil
}

func (t *organismTable) Alive(id OrganismID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byID[id]
	return ok && o.alive
}

func (t *organismTable) Position(id OrganismID) (float64, float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byID[id]
	if !ok {
		return 0, 0, false
	}
	return o.x, o.y, true
}

func (t *organismTable) Remove(id OrganismID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// tick gives every live organism a small pseudo-physics nudge so
// lifespan/distance fitness terms have something real to measure; it
// never touches the real physics engine. Mobile organisms wander and
// burn energy; trees stay rooted, age through their stages, and
// produce energy and absorb water at fixed rates.
func (t *organismTable) tick(dt float64, w, h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.byID {
		if !o.alive {
			continue
		}
		o.age += dt
		if o.kind == "tree" {
			produced := dt * treeEnergyRate
			o.energyProduced += produced
			o.waterAbsorbed += dt * treeWaterRate
			o.energy += produced - dt*organismDecay
			continue
		}
		o.x += dt * mobileSpeedX
		o.y += dt * mobileSpeedY
		o.energy -= dt * organismDecay
		if o.x < 0 || o.y < 0 || o.x >= float64(w) || o.y >= float64(h) || o.energy <= 0 {
			o.alive = false
		}
	}
}

// Energy exposes the organism's remaining energy for tree fitness
// accounting; returns 0, false if the organism is unknown.
func (t *organismTable) Energy(id OrganismID) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byID[id]
	if !ok {
		return 0, false
	}
	return o.energy, true
}

// TreeStats reports the growth telemetry for a tree organism; ok is
// false for unknown ids and non-tree organisms.
func (t *organismTable) TreeStats(id OrganismID) (TreeStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byID[id]
	if !ok || o.kind != "tree" {
		return TreeStats{}, false
	}
	stats := TreeStats{
		Stage:          TreeStageSeed,
		HasSeed:        true,
		EnergyProduced: o.energyProduced,
		WaterAbsorbed:  o.waterAbsorbed,
	}
	if o.age >= treeSproutAge {
		stats.Stage = TreeStageSprout
		stats.HasRoot = true
		stats.HasLeaf = true
	}
	if o.age >= treeMatureAge {
		stats.Stage = TreeStageMature
		stats.HasWoodAboveSeed = true
	}
	return stats, true
}
