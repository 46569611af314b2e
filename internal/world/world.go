// Package world defines the abstract World/Scenario contract the
// control plane consumes. The real cellular-physics grid, organism
// bodies/brains, and rendering live elsewhere; this package provides
// the narrow seam the state machine and trainer call through, plus a
// minimal concrete World good enough to drive that seam end to end.
package world

import (
	"fmt"
)

// Snapshot is a read-only render capture of one World tick.
type Snapshot struct {
	Width  int
	Height int
	// Cells is an opaque per-cell encoding; the core never interprets
	// it beyond passing it to internal/snapshot for broadcast framing.
	Cells []byte
}

// World is the minimal surface the control plane requires of the
// otherwise opaque simulation: advance time, resize, capture a render
// snapshot, and hold an OrganismManager handle.
type World interface {
	AdvanceTime(dt float64)
	Resize(w, h int) error
	Snapshot() Snapshot
	Organisms() OrganismManager
	SetCell(x, y int, value byte) error
	GetCell(x, y int) (byte, error)
	Width() int
	Height() int
}

// PhysicsSettings bundles the tunable physics parameters exposed
// through GravitySet/PhysicsSettingsSet/PhysicsSettingsGet. The control
// plane never interprets these beyond storing and echoing them back to
// the physics engine seam.
type PhysicsSettings struct {
	Gravity   float64 `json:"gravity"`
	Viscosity float64 `json:"viscosity"`
	Friction  float64 `json:"friction"`
}

// DefaultPhysicsSettings is the tuning a fresh World starts with.
func DefaultPhysicsSettings() PhysicsSettings {
	return PhysicsSettings{Gravity: 9.8, Viscosity: 1.0, Friction: 0.1}
}

// OrganismID identifies a spawned organism within one World instance.
type OrganismID uint64

// OrganismManager creates and tracks organisms inside a World by type.
type OrganismManager interface {
	Spawn(organismType string, x, y float64) (OrganismID, error)
	Alive(id OrganismID) bool
	Position(id OrganismID) (x, y float64, ok bool)
	Remove(id OrganismID)
}

// Scenario is a pluggable world-setup strategy that owns
// pre-simulation configuration and participates in each tick.
type Scenario interface {
	ID() string
	// RequiredSize reports the world dimensions this scenario needs;
	// the state machine constructs (or resizes) the World to match
	// before calling Install.
	RequiredSize() (w, h int)
	Install(w World) error
	Tick(w World, dt float64)
}

// GridWorld is a minimal concrete World: a flat byte grid plus a
// trivial organism table, sufficient to exercise SimRunning/SimPaused
// mutation commands and one evaluation of the trainer without pulling
// in the real cellular-physics engine.
type GridWorld struct {
	w, h    int
	cells   []byte
	orgs    *organismTable
	physics PhysicsSettings
}

func NewGridWorld(w, h int) (*GridWorld, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("world: invalid dimensions %dx%d", w, h)
	}
	return &GridWorld{w: w, h: h, cells: make([]byte, w*h), orgs: newOrganismTable(), physics: DefaultPhysicsSettings()}, nil
}

// Physics returns the current tunable physics settings.
func (g *GridWorld) Physics() PhysicsSettings { return g.physics }

// SetPhysics replaces the tunable physics settings wholesale.
func (g *GridWorld) SetPhysics(p PhysicsSettings) { g.physics = p }

// SetGravity updates only the gravity component.
func (g *GridWorld) SetGravity(gravity float64) { g.physics.Gravity = gravity }

func (g *GridWorld) Width() int  { return g.w }
func (g *GridWorld) Height() int { return g.h }

func (g *GridWorld) AdvanceTime(dt float64) {
	g.orgs.tick(dt, g.w, g.h)
}

func (g *GridWorld) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("world: invalid resize dimensions %dx%d", w, h)
	}
	cells := make([]byte, w*h)
	for y := 0; y < h && y < g.h; y++ {
		copy(cells[y*w:y*w+min(w, g.w)], g.cells[y*g.w:y*g.w+min(w, g.w)])
	}
	g.w, g.h, g.cells = w, h, cells
	return nil
}

func (g *GridWorld) Snapshot() Snapshot {
	cp := make([]byte, len(g.cells))
	copy(cp, g.cells)
	return Snapshot{Width: g.w, Height: g.h, Cells: cp}
}

func (g *GridWorld) Organisms() OrganismManager { return g.orgs }

func (g *GridWorld) index(x, y int) (int, error) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return 0, fmt.Errorf("world: cell (%d,%d) out of bounds %dx%d", x, y, g.w, g.h)
	}
	return y*g.w + x, nil
}

func (g *GridWorld) SetCell(x, y int, value byte) error {
	idx, err := g.index(x, y)
	if err != nil {
		return err
	}
	g.cells[idx] = value
	return nil
}

func (g *GridWorld) GetCell(x, y int) (byte, error) {
	idx, err := g.index(x, y)
	if err != nil {
		return 0, err
	}
	return g.cells[idx], nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// AirCell is the value a cell must hold to count as "air" for the
// nearest-air-cell spawn search.
const AirCell byte = 0

// NearestAirToCenter finds the nearest air cell to the world center,
// preferring the top half, falling back to the bottom half.
func NearestAirToCenter(w World) (x, y int, ok bool) {
	cx, cy := w.Width()/2, w.Height()/2
	if x, y, ok := nearestAirInHalf(w, cx, cy, 0, w.Height()/2); ok {
		return x, y, true
	}
	return nearestAirInHalf(w, cx, cy, w.Height()/2, w.Height())
}

func nearestAirInHalf(w World, cx, cy, yMin, yMax int) (int, int, bool) {
	bestDist := -1
	bestX, bestY := 0, 0
	found := false
	for y := yMin; y < yMax; y++ {
		for x := 0; x < w.Width(); x++ {
			v, err := w.GetCell(x, y)
			if err != nil || v != AirCell {
				continue
			}
			dx, dy := x-cx, y-cy
			dist := dx*dx + dy*dy
			if !found || dist < bestDist {
				bestDist, bestX, bestY, found = dist, x, y, true
			}
		}
	}
	return bestX, bestY, found
}
