// Package registry implements the typed command registry: a closed,
// statically-enumerated set of command descriptors keyed by name, one
// registry per target (Server and UI).
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aortez/dirtsim/internal/wire"
)

// Target distinguishes the Server registry from the UI registry; a
// command name may be registered independently on each.
type Target string

const (
	Server Target = "server"
	UI     Target = "ui"
)

// Handler decodes a request body, runs it, and yields a Result-shaped
// outcome. It is invoked on the state-machine thread only, never
// directly from a transport read loop.
type Handler func(body interface{}) (interface{}, *wire.ApiError)

// Descriptor describes one registered command: its name, how to decode
// its two wire forms, and whether it mutates server state. It holds no
// handler; each state machine keeps its own name -> handler table.
type Descriptor struct {
	Name string

	// Mutates reports whether this command may mutate World/trainer
	// state; used only for diagnostics, never to gate dispatch (gating
	// is the state machine's job).
	Mutates bool

	// HasResponse is false for fire-and-forget commands; true for the
	// overwhelming majority, which always answer with an okay/error body.
	HasResponse bool

	DecodeBinary func(*wire.Reader) (interface{}, error)
	DecodeJSON   func(fields json.RawMessage) (interface{}, error)

	// EncodeOkayBinary/DecodeOkayBinary are set only on commands whose
	// okay body has a hand-written field-by-field binary codec; when
	// nil the okay body rides the JSON-in-binary-payload encoding.
	EncodeOkayBinary func(interface{}, *wire.Writer) error
	DecodeOkayBinary func(*wire.Reader) (interface{}, error)
}

// Registry is the name -> descriptor table for one Target.
type Registry struct {
	mu          sync.RWMutex
	target      Target
	descriptors map[string]*Descriptor
}

func New(target Target) *Registry {
	return &Registry{target: target, descriptors: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Registering the same name twice is a
// programming error and panics at init time rather than silently
// overwriting.
func (r *Registry) Register(d *Descriptor) {
	if d.Name == "" {
		panic("registry: descriptor with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Name]; exists {
		panic(fmt.Sprintf("registry: command %q already registered on target %q", d.Name, r.target))
	}
	r.descriptors[d.Name] = d
}

// Lookup resolves a command name to its descriptor.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns every registered command name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	return out
}
