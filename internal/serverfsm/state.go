// Package serverfsm implements the Server state machine: the
// authoritative state variant that serializes all World/trainer
// mutation. Each variant owns its own data; transitions pass ownership,
// never share mutable references. There is no inheritance hierarchy --
// the variant is an enum plus the owned-resource fields populated and
// cleared as the machine moves between states.
package serverfsm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/metrics"
	"github.com/aortez/dirtsim/internal/organism"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/trainer"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/transport"
	"github.com/aortez/dirtsim/internal/wire"
	"github.com/aortez/dirtsim/internal/world"
)

// State is the tagged-variant enum of the Server's lifecycle.
type State int32

const (
	PreStartup State = iota
	Startup
	Idle
	SimRunning
	SimPaused
	Evolution
	UnsavedTrainingResult
	ErrorState
	Shutdown
)

var stateNames = map[State]string{
	PreStartup:            "PreStartup",
	Startup:               "Startup",
	Idle:                  "Idle",
	SimRunning:            "SimRunning",
	SimPaused:             "SimPaused",
	Evolution:             "Evolution",
	UnsavedTrainingResult: "UnsavedTrainingResult",
	ErrorState:            "Error",
	Shutdown:              "Shutdown",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// simResources is the data SimRunning/SimPaused own.
type simResources struct {
	world      world.World
	scenario   world.Scenario
	timestep   float64
	maxSteps   int
	stepsTaken int
	maxFrameMs int
}

// unsavedResult is the data UnsavedTrainingResult owns: the finalized
// summary/candidate list plus the candidate genomes themselves, held
// only until the operator saves or discards them.
type unsavedResult struct {
	summary    trainingresult.Summary
	candidates []trainingresult.Candidate
	genomes    map[uuid.UUID]genome.Genome
	createdAt  time.Time
}

// Deps bundles the Machine's external collaborators.
type Deps struct {
	Genomes         *genome.Repository
	Results         trainingresult.Repository
	Scenarios       *world.Registry
	Brains          *organism.Registry
	Registry        *registry.Registry
	TransportServer *transport.Server
	Auth            *transport.Auth
	Metrics         *metrics.Registry
	Logger          *logging.Logger
	TickInterval    time.Duration
}

// Machine is the Server's single-threaded state variant.
// Every field it owns is touched only from the Run goroutine; readers
// (StatusGet handlers) run inline on that same goroutine, so no
// additional locking is required for state fields themselves. state is
// atomic only so external introspection (health checks) can read it
// without a cross-goroutine race report; the Run loop is still the sole
// writer.
type Machine struct {
	state  atomic.Int32
	errMsg string

	sim     *simResources
	trainer *trainer.Trainer
	unsaved *unsavedResult

	// lastEvolution remembers the most recent successful
	// EvolutionStart request so TrainingResultSave{restart=true} can
	// begin a new run with a freshly initialized population.
	lastEvolution *EvolutionStartRequest

	// userSettings is the opaque server-persisted settings payload
	// echoed back out as UserSettingsUpdated.
	userSettings []byte

	queue *dispatch.Queue
	deps  Deps

	handlers       map[string]CommandHandler
	acceptedStates map[string]map[State]bool

	exitCh chan struct{}

	mu sync.Mutex // guards errMsg read from other goroutines
}

// CommandHandler applies one command against the machine; it may read
// or mutate m's owned resources and must not block longer than one
// physics step's worth of work.
type CommandHandler func(m *Machine, body interface{}) (interface{}, *wire.ApiError)

func New(queue *dispatch.Queue, deps Deps) *Machine {
	if deps.TickInterval <= 0 {
		deps.TickInterval = 16 * time.Millisecond
	}
	m := &Machine{
		queue:          queue,
		deps:           deps,
		handlers:       make(map[string]CommandHandler),
		acceptedStates: make(map[string]map[State]bool),
		exitCh:         make(chan struct{}),
	}
	m.state.Store(int32(PreStartup))
	registerCommands(m, deps.Registry)
	return m
}

// State returns the current variant, safe to call from any goroutine.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) setState(s State) { m.state.Store(int32(s)) }

// ForceStartupError drives the Startup -> Error(msg) path.
// Error is terminal but introspectable: it accepts only Exit (plus the
// read-only StateGet/StatusGet surface).
func (m *Machine) ForceStartupError(msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.mu.Unlock()
	m.setState(ErrorState)
}

// ErrorMessage returns the message recorded when the machine entered
// Error, safe to call from any goroutine.
func (m *Machine) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// register installs one command's handler and accept-set.
func (m *Machine) register(name string, accepted []State, h CommandHandler) {
	m.handlers[name] = h
	set := make(map[State]bool, len(accepted))
	for _, s := range accepted {
		set[s] = true
	}
	m.acceptedStates[name] = set
}

// Run drives the main loop: drain events, apply each in arrival order,
// then step the world (see stepWorld). It returns when
// the machine reaches Shutdown or ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	m.setState(Startup)
	// Config load cannot fail here: flag parsing already succeeded
	// before the machine was constructed. The Startup -> Error path
	// is driven through ForceStartupError.
	m.setState(Idle)

	ticker := time.NewTicker(m.deps.TickInterval)
	defer ticker.Stop()

	for {
		if m.State() == Shutdown {
			close(m.exitCh)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-m.queue.Wait():
		case <-ticker.C:
		}

		start := time.Now()
		for _, e := range m.queue.DrainAll() {
			m.applyEvent(e)
			if m.State() == Shutdown {
				break
			}
		}
		m.stepWorld()
		if m.deps.Metrics != nil {
			m.deps.Metrics.ObserveTick(time.Since(start))
			m.deps.Metrics.QueueDepth.Set(float64(m.queue.Len()))
		}
	}
}

// Wait blocks until the machine reaches Shutdown.
func (m *Machine) Wait() { <-m.exitCh }

func (m *Machine) applyEvent(e dispatch.Event) {
	handler, ok := m.handlers[e.CommandName]
	if !ok {
		if e.Sink != nil {
			e.Sink.Fail(wire.Schema("no handler registered for %q", e.CommandName))
		}
		return
	}
	accepted := m.acceptedStates[e.CommandName]
	current := m.State()
	if !accepted[current] {
		if e.Sink != nil {
			e.Sink.Fail(wire.StateMismatch(current.String(), e.CommandName))
		}
		return
	}
	resp, apiErr := handler(m, e.Body)
	if e.Sink == nil {
		return
	}
	if apiErr != nil {
		e.Sink.Fail(apiErr)
		return
	}
	e.Sink.Complete(resp)
}

// stepWorld advances the world while in SimRunning (one physics step,
// or several within a positive maxFrameMs budget), or ticks the trainer
// while in Evolution.
func (m *Machine) stepWorld() {
	switch m.State() {
	case SimRunning:
		if m.sim == nil {
			return
		}
		// One physics step per tick by default; a positive maxFrameMs
		// lets the tick keep stepping until the wall-clock budget is
		// spent. Negative maxSteps means unbounded.
		start := time.Now()
		for {
			if m.sim.maxSteps >= 0 && m.sim.stepsTaken >= m.sim.maxSteps {
				return
			}
			m.sim.world.AdvanceTime(m.sim.timestep)
			m.sim.scenario.Tick(m.sim.world, m.sim.timestep)
			m.sim.stepsTaken++
			if m.deps.Metrics != nil {
				m.deps.Metrics.WorldStepsTotal.Inc()
			}
			if m.sim.maxFrameMs <= 0 || time.Since(start).Milliseconds() >= int64(m.sim.maxFrameMs) {
				return
			}
		}
	case Evolution:
		if m.trainer == nil {
			return
		}
		if apiErr := m.trainer.Tick(); apiErr != nil {
			if m.deps.Logger != nil {
				m.deps.Logger.Warn("trainer tick failed", logging.Err(apiErr))
			}
			return
		}
		if m.trainer.Finished() {
			result := m.trainer.PendingResult()
			m.unsaved = &unsavedResult{
				summary:    result.Summary,
				candidates: result.Candidates,
				genomes:    m.trainer.PendingCandidateGenomes(),
				createdAt:  result.CreatedAt,
			}
			m.trainer = nil
			m.setState(UnsavedTrainingResult)
			if m.deps.Metrics != nil {
				m.deps.Metrics.TrainerGen.Add(float64(result.Summary.CompletedGenerations))
			}
		}
	}
}
