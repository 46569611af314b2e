// Package metrics backs PerfStatsGet with prometheus/client_golang.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles the gauges/histograms/counters the main loop updates
// every tick and PerfStatsGet reads back.
type Registry struct {
	reg *prometheus.Registry

	TickDuration    prometheus.Histogram
	QueueDepth      prometheus.Gauge
	TrainerGen      prometheus.Counter
	BroadcastsSent  prometheus.Counter
	WorldStepsTotal prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dirtsim_tick_duration_seconds",
			Help:    "Wall-clock duration of one main-loop outer tick.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dirtsim_event_queue_depth",
			Help: "Number of events pending in the dispatch queue.",
		}),
		TrainerGen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirtsim_trainer_generations_total",
			Help: "Total evolutionary generations completed across all runs.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirtsim_broadcasts_sent_total",
			Help: "Total broadcast frames sent to subscribed connections.",
		}),
		WorldStepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirtsim_world_steps_total",
			Help: "Total World.AdvanceTime calls across SimRunning and trainer evaluations.",
		}),
	}
	reg.MustRegister(r.TickDuration, r.QueueDepth, r.TrainerGen, r.BroadcastsSent, r.WorldStepsTotal)
	return r
}

// ObserveTick records one tick's wall-clock duration.
func (r *Registry) ObserveTick(d time.Duration) { r.TickDuration.Observe(d.Seconds()) }

// Snapshot is what PerfStatsGet returns over the wire: a
// plain-value view of the live gauges, since prometheus types are not
// directly wire-serializable.
type Snapshot struct {
	TickDurationCount  uint64
	QueueDepth         float64
	TrainerGenerations float64
	BroadcastsSent     float64
	WorldSteps         float64
}

func (r *Registry) Snapshot() Snapshot {
	var s Snapshot
	var hm dto.Metric
	if err := r.TickDuration.Write(&hm); err == nil {
		s.TickDurationCount = hm.GetHistogram().GetSampleCount()
	}
	if v, err := gaugeValue(r.QueueDepth); err == nil {
		s.QueueDepth = v
	}
	if v, err := counterValue(r.TrainerGen); err == nil {
		s.TrainerGenerations = v
	}
	if v, err := counterValue(r.BroadcastsSent); err == nil {
		s.BroadcastsSent = v
	}
	if v, err := counterValue(r.WorldStepsTotal); err == nil {
		s.WorldSteps = v
	}
	return s
}

// gaugeValue/counterValue read a metric's current value back out
// through the same dto.Metric.Write the registry's own scrape path
// uses, since prometheus.Gauge/Counter expose no direct getter.
func gaugeValue(g prometheus.Gauge) (float64, error) {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

func counterValue(c prometheus.Counter) (float64, error) {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}
