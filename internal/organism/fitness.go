// Fitness functions for the trained organism types: a generic mobile
// score shared by duck and goose, and a multi-term developmental score
// for trees.
package organism

import "math"

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MobileFitnessInputs is the generic duck/goose fitness inputs.
type MobileFitnessInputs struct {
	Lifespan          float64
	MaxSimulationTime float64
	DistanceTraveled  float64
	WorldWidth        float64
	WorldHeight       float64
}

// MobileFitness implements: survival = clamp01(lifespan/max_sim_time);
// distance = clamp01(distance_traveled/hypot(w,h));
// fitness = survival * (1 + distance).
func MobileFitness(in MobileFitnessInputs) float64 {
	if in.MaxSimulationTime <= 0 {
		return 0
	}
	survival := clamp01(in.Lifespan / in.MaxSimulationTime)
	diag := math.Hypot(in.WorldWidth, in.WorldHeight)
	var distance float64
	if diag > 0 {
		distance = clamp01(in.DistanceTraveled / diag)
	}
	return survival * (1 + distance)
}

// DevelopmentalStage enumerates the tree organism's growth stages for
// the stage_bonus term.
type DevelopmentalStage int

const (
	StageSeed DevelopmentalStage = iota
	StageSprout
	StageMature
)

// TreeFitnessInputs is every input the tree formula reads.
type TreeFitnessInputs struct {
	Lifespan          float64
	MaxSimulationTime float64
	MaxEnergy         float64
	FinalEnergy       float64
	EnergyReference   float64
	EnergyProduced    float64
	WaterAbsorbed     float64
	WaterReference    float64
	CommandsAccepted  int
	CommandsRejected  int
	Stage             DevelopmentalStage
	HasSeed           bool
	HasLeaf           bool
	HasRoot           bool
	HasWoodAboveSeed  bool
}

func stageBonus(s DevelopmentalStage) float64 {
	switch s {
	case StageSprout:
		return 0.2
	case StageMature:
		return 1.0
	default:
		return 0
	}
}

// TreeFitness implements the tree formula:
//
//	survival = clamp01(lifespan / max_simulation_time)
//	energy = 0.7*clamp01(max_energy/energy_reference) + 0.3*clamp01(final_energy/energy_reference)
//	resource = 0.6*(1-exp(-energy_produced/energy_reference)) + 0.4*(1-exp(-water_absorbed/water_reference))
//	command_score = 0.001*commands_accepted - 0.00005*commands_rejected
//	stage_bonus ∈ {0, 0.2, 1.0}
//	structure_bonus ∈ {0, 1.0} if minimal {seed, leaf, root, wood-above-seed} present
//	fitness = survival*(1+energy)*(1+resource) + stage_bonus + structure_bonus + command_score
//
// Zero survival short-circuits to zero.
func TreeFitness(in TreeFitnessInputs) float64 {
	if in.MaxSimulationTime <= 0 {
		return 0
	}
	survival := clamp01(in.Lifespan / in.MaxSimulationTime)
	if survival == 0 {
		return 0
	}

	var energy float64
	if in.EnergyReference > 0 {
		energy = 0.7*clamp01(in.MaxEnergy/in.EnergyReference) + 0.3*clamp01(in.FinalEnergy/in.EnergyReference)
	}

	var resourceEnergyTerm, resourceWaterTerm float64
	if in.EnergyReference > 0 {
		resourceEnergyTerm = 1 - math.Exp(-in.EnergyProduced/in.EnergyReference)
	}
	if in.WaterReference > 0 {
		resourceWaterTerm = 1 - math.Exp(-in.WaterAbsorbed/in.WaterReference)
	}
	resource := 0.6*resourceEnergyTerm + 0.4*resourceWaterTerm

	commandScore := 0.001*float64(in.CommandsAccepted) - 0.00005*float64(in.CommandsRejected)

	structureBonus := 0.0
	if in.HasSeed && in.HasLeaf && in.HasRoot && in.HasWoodAboveSeed {
		structureBonus = 1.0
	}

	return survival*(1+energy)*(1+resource) + stageBonus(in.Stage) + structureBonus + commandScore
}
