package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_ReflectsRecordedValues(t *testing.T) {
	r := New()

	r.QueueDepth.Set(7)
	r.TrainerGen.Add(3)
	r.BroadcastsSent.Inc()
	r.WorldStepsTotal.Add(42)
	r.ObserveTick(5 * time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, 7.0, snap.QueueDepth)
	assert.Equal(t, 3.0, snap.TrainerGenerations)
	assert.Equal(t, 1.0, snap.BroadcastsSent)
	assert.Equal(t, 42.0, snap.WorldSteps)
}

func TestNew_RegistersDistinctMetricsWithoutPanicking(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
	})
}
