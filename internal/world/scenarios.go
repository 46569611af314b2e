package world

import "fmt"

// Well-known scenario ids referenced throughout the trainer and its
// tests.
const (
	ScenarioTreeGermination = "TreeGermination"
	ScenarioDuckPond        = "DuckPond"
	ScenarioGoosePond       = "GoosePond"
)

// gridScenario is a scenario that just sets a requested size and fills
// every cell with air, enough for NearestAirToCenter and the trainer's
// per-evaluation World construction to have real behavior to exercise.
type gridScenario struct {
	id   string
	w, h int
}

func NewTreeGerminationScenario() Scenario {
	return &gridScenario{id: ScenarioTreeGermination, w: 64, h: 64}
}
func NewDuckPondScenario() Scenario  { return &gridScenario{id: ScenarioDuckPond, w: 96, h: 48} }
func NewGoosePondScenario() Scenario { return &gridScenario{id: ScenarioGoosePond, w: 96, h: 48} }

func (s *gridScenario) ID() string               { return s.id }
func (s *gridScenario) RequiredSize() (int, int) { return s.w, s.h }

func (s *gridScenario) Install(w World) error {
	if w.Width() != s.w || w.Height() != s.h {
		if err := w.Resize(s.w, s.h); err != nil {
			return fmt.Errorf("world: install scenario %s: %w", s.id, err)
		}
	}
	for y := 0; y < w.Height(); y++ {
		for x := 0; x < w.Width(); x++ {
			_ = w.SetCell(x, y, AirCell)
		}
	}
	return nil
}

func (s *gridScenario) Tick(w World, dt float64) {}

// Registry resolves a scenario id to a constructor, standing in for the
// real scenario catalog.
type Registry struct {
	ctors map[string]func() Scenario
}

func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]func() Scenario)}
	r.Register(ScenarioTreeGermination, NewTreeGerminationScenario)
	r.Register(ScenarioDuckPond, NewDuckPondScenario)
	r.Register(ScenarioGoosePond, NewGoosePondScenario)
	return r
}

func (r *Registry) Register(id string, ctor func() Scenario) { r.ctors[id] = ctor }

func (r *Registry) New(id string) (Scenario, error) {
	ctor, ok := r.ctors[id]
	if !ok {
		return nil, fmt.Errorf("world: unknown scenario %q", id)
	}
	return ctor(), nil
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		out = append(out, id)
	}
	return out
}
