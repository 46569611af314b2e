package organism

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMobileFitness_ZeroMaxSimulationTimeYieldsZero(t *testing.T) {
	assert.Equal(t, 0.0, MobileFitness(MobileFitnessInputs{MaxSimulationTime: 0}))
}

func TestMobileFitness_FullSurvivalNoDistance(t *testing.T) {
	got := MobileFitness(MobileFitnessInputs{
		Lifespan:          10,
		MaxSimulationTime: 10,
		DistanceTraveled:  0,
		WorldWidth:        100,
		WorldHeight:       100,
	})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestMobileFitness_ClampsSurvivalAndDistanceAboveOne(t *testing.T) {
	got := MobileFitness(MobileFitnessInputs{
		Lifespan:          1000,
		MaxSimulationTime: 10,
		DistanceTraveled:  1000,
		WorldWidth:        10,
		WorldHeight:       10,
	})
	assert.InDelta(t, 2.0, got, 1e-9) // survival clamps to 1, distance clamps to 1 -> 1*(1+1)
}

func TestMobileFitness_PartialSurvivalAndDistance(t *testing.T) {
	diag := math.Hypot(100, 100)
	got := MobileFitness(MobileFitnessInputs{
		Lifespan:          5,
		MaxSimulationTime: 10,
		DistanceTraveled:  diag / 2,
		WorldWidth:        100,
		WorldHeight:       100,
	})
	assert.InDelta(t, 0.5*(1+0.5), got, 1e-9)
}

func TestTreeFitness_ZeroSurvivalShortCircuitsToZero(t *testing.T) {
	got := TreeFitness(TreeFitnessInputs{
		Lifespan:          0,
		MaxSimulationTime: 100,
		EnergyReference:   10,
		WaterReference:    10,
	})
	assert.Equal(t, 0.0, got)
}

func TestTreeFitness_ZeroMaxSimulationTimeYieldsZero(t *testing.T) {
	assert.Equal(t, 0.0, TreeFitness(TreeFitnessInputs{MaxSimulationTime: 0}))
}

func TestTreeFitness_StructureBonusRequiresAllFourParts(t *testing.T) {
	base := TreeFitnessInputs{
		Lifespan:          10,
		MaxSimulationTime: 10,
		EnergyReference:   10,
		WaterReference:    10,
		HasSeed:           true,
		HasLeaf:           true,
		HasRoot:           true,
		HasWoodAboveSeed:  false,
	}
	withoutWood := TreeFitness(base)

	base.HasWoodAboveSeed = true
	withWood := TreeFitness(base)

	assert.InDelta(t, 1.0, withWood-withoutWood, 1e-9)
}

func TestTreeFitness_StageBonusValues(t *testing.T) {
	mkInputs := func(stage DevelopmentalStage) TreeFitnessInputs {
		return TreeFitnessInputs{
			Lifespan:          10,
			MaxSimulationTime: 10,
			EnergyReference:   10,
			WaterReference:    10,
			Stage:             stage,
		}
	}

	seed := TreeFitness(mkInputs(StageSeed))
	sprout := TreeFitness(mkInputs(StageSprout))
	mature := TreeFitness(mkInputs(StageMature))

	assert.InDelta(t, 0.2, sprout-seed, 1e-9)
	assert.InDelta(t, 1.0, mature-seed, 1e-9)
}

func TestTreeFitness_CommandScorePenalizesRejections(t *testing.T) {
	base := TreeFitnessInputs{
		Lifespan:          10,
		MaxSimulationTime: 10,
		EnergyReference:   10,
		WaterReference:    10,
		CommandsAccepted:  100,
	}
	withoutRejects := TreeFitness(base)

	base.CommandsRejected = 100
	withRejects := TreeFitness(base)

	assert.Less(t, withRejects, withoutRejects)
	assert.InDelta(t, 0.00005*100, withoutRejects-withRejects, 1e-9)
}
