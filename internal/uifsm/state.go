// Package uifsm implements the UI state machine: a second
// deterministic variant-state machine, symmetric to the Server's
// (internal/serverfsm), that consumes commands from local widgets and
// from CLI/browser clients over its own WebSocket listener, and
// forwards authoritative mutations to the Server over the outbound
// half of internal/transport. It reuses the same event-queue mechanics
// (internal/dispatch) and the same envelope codec (internal/wire) as
// the Server.
package uifsm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/transport"
	"github.com/aortez/dirtsim/internal/videosignal"
	"github.com/aortez/dirtsim/internal/wire"
)

// State is the UI's tagged-variant enum. Training's
// Idle/Active/UnsavedResult sub-states are distinct top-level states
// here, with "Training.Idle" collapsed into StartMenu: the UI owns no
// World of its own and has no separate idle-within-training resource
// to track.
type State int32

const (
	Disconnected State = iota
	StartMenu
	SimRunning
	TrainingActive
	TrainingUnsavedResult
	Shutdown
)

var stateNames = map[State]string{
	Disconnected:          "Disconnected",
	StartMenu:             "StartMenu",
	SimRunning:            "SimRunning",
	TrainingActive:        "TrainingActive",
	TrainingUnsavedResult: "TrainingUnsavedResult",
	Shutdown:              "Shutdown",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Deps bundles the UI Machine's external collaborators.
type Deps struct {
	Registry        *registry.Registry
	ServerClient    *transport.Client
	TransportServer *transport.Server
	Video           *videosignal.Manager
	Auth            *transport.Auth
	Logger          *logging.Logger
	TickInterval    time.Duration
	CommandTimeout  time.Duration
}

// CommandHandler applies one UI command; it may forward the mutation to
// the Server via deps.ServerClient and must not block longer than one
// tick's worth of work.
type CommandHandler func(m *Machine, body interface{}) (interface{}, *wire.ApiError)

// Machine is the UI's single-threaded state variant.
type Machine struct {
	state atomic.Int32

	queue *dispatch.Queue
	deps  Deps

	handlers       map[string]CommandHandler
	acceptedStates map[string]map[State]bool

	// selectedIcon/railExpanded/lastResult are the minimal widget-facing
	// state the handlers below mutate; the real LVGL widget tree is an
	// external collaborator the core never touches directly.
	selectedIcon  string
	railExpanded  bool
	lastResultIDs []string

	exitCh chan struct{}
}

func New(queue *dispatch.Queue, deps Deps) *Machine {
	if deps.TickInterval <= 0 {
		deps.TickInterval = 16 * time.Millisecond
	}
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = transport.DefaultTimeout
	}
	m := &Machine{
		queue:          queue,
		deps:           deps,
		handlers:       make(map[string]CommandHandler),
		acceptedStates: make(map[string]map[State]bool),
		exitCh:         make(chan struct{}),
	}
	m.state.Store(int32(Disconnected))
	registerCommands(m, deps.Registry)
	return m
}

func (m *Machine) State() State     { return State(m.state.Load()) }
func (m *Machine) setState(s State) { m.state.Store(int32(s)) }

// SetServerClient wires the outbound half of the transport after
// construction, since dialing the Server can race with (or fail
// independently of) bringing the UI's own Machine up.
func (m *Machine) SetServerClient(c *transport.Client) { m.deps.ServerClient = c }

func (m *Machine) register(name string, accepted []State, h CommandHandler) {
	m.handlers[name] = h
	set := make(map[State]bool, len(accepted))
	for _, s := range accepted {
		set[s] = true
	}
	m.acceptedStates[name] = set
}

// OnConnected transitions Disconnected -> StartMenu once the outbound
// client half has successfully dialed the Server.
func (m *Machine) OnConnected() {
	if m.State() == Disconnected {
		m.setState(StartMenu)
	}
}

// OnBroadcast reacts to a Server broadcast the outbound client
// forwards here.
func (m *Machine) OnBroadcast(name string, candidateIDs []string) {
	switch name {
	case "TrainingResultAvailable":
		if m.State() == TrainingActive {
			m.lastResultIDs = candidateIDs
			m.setState(TrainingUnsavedResult)
		}
	}
}

// Run drives the UI's own main loop: drain events, apply each in
// arrival order, yield for one tick. It has no World
// to step; the tick exists purely to bound per-iteration latency the
// same way the Server's does.
func (m *Machine) Run(ctx context.Context) {
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

		for _, e := range m.queue.DrainAll() {
			m.applyEvent(e)
			if m.State() == Shutdown {
				break
			}
		}
	}
}

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

// forward relays a mutating command to the Server over the outbound
// client half of internal/transport.
func (m *Machine) forward(ctx context.Context, name string, body interface{}) wire.Result[interface{}] {
	if m.deps.ServerClient == nil {
		return wire.Fail[interface{}](wire.ResourceUnavailable("no server connection configured"))
	}
	return m.deps.ServerClient.SendCommandAndGetResponse(ctx, name, body, m.deps.CommandTimeout)
}
