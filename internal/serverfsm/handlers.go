package serverfsm

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/trainer"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/wire"
	"github.com/aortez/dirtsim/internal/world"
)

func handleStateGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return StateGetResponse{State: m.State().String()}, nil
}

func handleStatusGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	resp := StatusGetResponse{State: m.State().String()}
	if m.sim != nil {
		resp.WorldWidth = m.sim.world.Width()
		resp.WorldHeight = m.sim.world.Height()
		resp.Timestep = m.sim.timestep
	}
	if m.trainer != nil {
		resp.Generation = m.trainer.Generation()
		resp.CurrentEval = m.trainer.CurrentEval()
	}
	if m.deps.TransportServer != nil {
		resp.ConnectedConns = len(m.deps.TransportServer.Connections())
	}
	return resp, nil
}

func handleScenarioListGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.Scenarios == nil {
		return ScenarioListGetResponse{}, nil
	}
	return ScenarioListGetResponse{ScenarioIDs: m.deps.Scenarios.IDs()}, nil
}

func handleSimRun(m *Machine, req SimRunRequest) (interface{}, *wire.ApiError) {
	if req.Timestep <= 0 {
		return nil, wire.Validation("timestep must be positive")
	}
	scenarioID := world.ScenarioTreeGermination
	if req.ScenarioID != nil {
		scenarioID = *req.ScenarioID
	}
	scenario, err := m.deps.Scenarios.New(scenarioID)
	if err != nil {
		return nil, wire.Validation("%s", err)
	}
	w, h := scenario.RequiredSize()
	if req.ContainerWidth > 0 {
		w = req.ContainerWidth
	}
	if req.ContainerHeight > 0 {
		h = req.ContainerHeight
	}
	gw, err := world.NewGridWorld(w, h)
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	if err := scenario.Install(gw); err != nil {
		return nil, wire.Validation("%s", err)
	}
	m.sim = &simResources{world: gw, scenario: scenario, timestep: req.Timestep, maxSteps: req.MaxSteps, maxFrameMs: req.MaxFrameMillis}
	if req.StartPaused {
		m.setState(SimPaused)
	} else {
		m.setState(SimRunning)
	}
	return struct{}{}, nil
}

func handleSimStop(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.sim = nil
	m.setState(Idle)
	return struct{}{}, nil
}

func handleSimPause(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.setState(SimPaused)
	return struct{}{}, nil
}

func handleSimResume(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.setState(SimRunning)
	return struct{}{}, nil
}

func handleWorldResize(m *Machine, req WorldResizeRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	if err := m.sim.world.Resize(req.Width, req.Height); err != nil {
		return nil, wire.Validation("%s", err)
	}
	return struct{}{}, nil
}

func handleCellSet(m *Machine, req CellSetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	if err := m.sim.world.SetCell(int(req.X), int(req.Y), req.Value); err != nil {
		return nil, wire.Validation("%s", err)
	}
	return struct{}{}, nil
}

func handleCellGet(m *Machine, req CellGetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	v, err := m.sim.world.GetCell(int(req.X), int(req.Y))
	if err != nil {
		return nil, wire.Validation("%s", err)
	}
	return CellGetResponse{Value: v}, nil
}

func handleReset(m *Machine, _ ResetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	scenario, err := m.deps.Scenarios.New(m.sim.scenario.ID())
	if err != nil {
		return nil, wire.Validation("%s", err)
	}
	w, h := scenario.RequiredSize()
	gw, err := world.NewGridWorld(w, h)
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	if err := scenario.Install(gw); err != nil {
		return nil, wire.Validation("%s", err)
	}
	wasRunning := m.State() == SimRunning
	m.sim = &simResources{world: gw, scenario: scenario, timestep: m.sim.timestep, maxSteps: m.sim.maxSteps, maxFrameMs: m.sim.maxFrameMs}
	if wasRunning {
		m.setState(SimRunning)
	} else {
		m.setState(SimPaused)
	}
	return struct{}{}, nil
}

// gridWorldOf narrows the abstract World interface down to the
// concrete GridWorld's extra physics-settings surface, the same
// narrowing pattern trainer.energyOf uses for organism energy.
func gridWorldOf(w world.World) (*world.GridWorld, bool) {
	gw, ok := w.(*world.GridWorld)
	return gw, ok
}

func handleGravitySet(m *Machine, req GravitySetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	gw, ok := gridWorldOf(m.sim.world)
	if !ok {
		return nil, wire.ResourceUnavailable("world does not support physics settings")
	}
	gw.SetGravity(req.Gravity)
	return struct{}{}, nil
}

func handlePhysicsSettingsSet(m *Machine, req PhysicsSettingsSetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	gw, ok := gridWorldOf(m.sim.world)
	if !ok {
		return nil, wire.ResourceUnavailable("world does not support physics settings")
	}
	gw.SetPhysics(req.Settings)
	return struct{}{}, nil
}

func handlePhysicsSettingsGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	gw, ok := gridWorldOf(m.sim.world)
	if !ok {
		return nil, wire.ResourceUnavailable("world does not support physics settings")
	}
	return PhysicsSettingsGetResponse{Settings: gw.Physics()}, nil
}

// handleScenarioConfigSet stores nothing beyond validating the world is
// active: the scenario-config payload is opaque to the core and only
// meaningful to the concrete scenario.
func handleScenarioConfigSet(m *Machine, req ScenarioConfigSetRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	return struct{}{}, nil
}

func handleScenarioSwitch(m *Machine, req ScenarioSwitchRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	scenario, err := m.deps.Scenarios.New(req.ScenarioID)
	if err != nil {
		return nil, wire.Validation("%s", err)
	}
	w, h := scenario.RequiredSize()
	if err := m.sim.world.Resize(w, h); err != nil {
		return nil, wire.Validation("%s", err)
	}
	if err := scenario.Install(m.sim.world); err != nil {
		return nil, wire.Validation("%s", err)
	}
	m.sim.scenario = scenario
	return struct{}{}, nil
}

// dirtValue is the cell byte SpawnDirtBall paints when the request's
// value is zero (SeedAdd writes the requested value as given); the real
// cellular-physics material encoding lives outside the core,
// so these commands only exercise the World's SetCell seam with a
// nonzero marker distinct from AirCell.
const dirtValue byte = 1

func handleSeedAdd(m *Machine, req SeedAddRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	if err := m.sim.world.SetCell(int(req.X), int(req.Y), req.Value); err != nil {
		return nil, wire.Validation("%s", err)
	}
	return struct{}{}, nil
}

func handleSpawnDirtBall(m *Machine, req SpawnDirtBallRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	if req.Radius < 0 {
		return nil, wire.Validation("radius must be non-negative")
	}
	value := req.Value
	if value == 0 {
		value = dirtValue
	}
	cx, cy, r := int(req.X), int(req.Y), int(req.Radius)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			_ = m.sim.world.SetCell(cx+dx, cy+dy, value)
		}
	}
	return struct{}{}, nil
}

func handleFingerDown(m *Machine, req FingerRequest) (interface{}, *wire.ApiError) {
	return handleFingerEvent(m, req)
}

func handleFingerMove(m *Machine, req FingerRequest) (interface{}, *wire.ApiError) {
	return handleFingerEvent(m, req)
}

func handleFingerUp(m *Machine, req FingerRequest) (interface{}, *wire.ApiError) {
	return handleFingerEvent(m, req)
}

func handleFingerEvent(m *Machine, req FingerRequest) (interface{}, *wire.ApiError) {
	if m.sim == nil {
		return nil, wire.ResourceUnavailable("no active world")
	}
	x := int(req.X)
	y := int(req.Y)
	if x < 0 || y < 0 || x >= m.sim.world.Width() || y >= m.sim.world.Height() {
		return nil, wire.Validation("finger position %d,%d out of bounds", x, y)
	}
	return struct{}{}, nil
}

func handleEventSubscribe(m *Machine, req EventSubscribeRequest) (interface{}, *wire.ApiError) {
	if m.deps.TransportServer == nil {
		return struct{}{}, nil
	}
	conn, ok := m.deps.TransportServer.Conn(req.ConnectionID)
	if !ok {
		return nil, wire.ResourceUnavailable("unknown connection %q", req.ConnectionID)
	}
	conn.SetSubscribed(req.Enabled)
	return struct{}{}, nil
}

// handleRenderFormatSet records the requested snapshot format and
// subscribes the connection to render-snapshot broadcasts in it.
func handleRenderFormatSet(m *Machine, req RenderFormatSetRequest) (interface{}, *wire.ApiError) {
	if m.deps.TransportServer == nil {
		return struct{}{}, nil
	}
	conn, ok := m.deps.TransportServer.Conn(req.ConnectionID)
	if !ok {
		return nil, wire.ResourceUnavailable("unknown connection %q", req.ConnectionID)
	}
	conn.SetRenderFormat(req.Format)
	return struct{}{}, nil
}

func handleRenderFormatGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return RenderFormatGetResponse{}, nil
}

// newTrainer constructs a trainer from one EvolutionStart request; the
// same path serves both a fresh EvolutionStart and a
// TrainingResultSave{restart=true} re-entry into Evolution.
func (m *Machine) newTrainer(req EvolutionStartRequest) (*trainer.Trainer, error) {
	// A nil *transport.Server stored in the interface would be a non-nil
	// Broadcaster; leave it unset when there is no transport.
	var broadcaster trainer.Broadcaster
	if m.deps.TransportServer != nil {
		broadcaster = m.deps.TransportServer
	}
	return trainer.New(req.Config, req.Mutation, trainer.Spec{
		ScenarioID:   req.ScenarioID,
		OrganismType: req.OrganismType,
		Population:   req.Population,
	}, trainer.Deps{
		Brains:      m.deps.Brains,
		Genomes:     m.deps.Genomes,
		Scenarios:   m.deps.Scenarios,
		Broadcaster: broadcaster,
		Logger:      m.deps.Logger,
		Seed:        time.Now().UnixNano(),
	})
}

func handleEvolutionStart(m *Machine, req EvolutionStartRequest) (interface{}, *wire.ApiError) {
	t, err := m.newTrainer(req)
	if err != nil {
		return nil, wire.Validation("%s", err)
	}
	reqCopy := req
	m.lastEvolution = &reqCopy
	m.trainer = t
	m.setState(Evolution)
	return struct{}{}, nil
}

func handleEvolutionStop(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.trainer = nil
	m.setState(Idle)
	return struct{}{}, nil
}

func handleTrainingResultSave(m *Machine, req TrainingResultSaveRequest) (interface{}, *wire.ApiError) {
	if m.unsaved == nil {
		return nil, wire.ResourceUnavailable("no pending training result")
	}
	wanted := make(map[uuid.UUID]bool, len(req.IDs))
	for _, id := range req.IDs {
		wanted[id] = true
	}
	saved, discarded := 0, 0
	kept := make([]trainingresult.Candidate, 0, len(req.IDs))
	for _, c := range m.unsaved.candidates {
		if !wanted[c.ID] {
			discarded++
			continue
		}
		saved++
		kept = append(kept, c)
		if m.deps.Genomes != nil {
			if g, ok := m.unsaved.genomes[c.ID]; ok {
				m.deps.Genomes.Store(c.ID, g, genome.Metadata{
					Fitness:           c.Fitness,
					Generation:        c.Generation,
					ScenarioID:        m.unsaved.summary.ScenarioID,
					OrganismType:      m.unsaved.summary.OrganismType,
					BrainKind:         c.BrainKind,
					BrainVariant:      c.BrainVariant,
					CreatedAt:         m.unsaved.createdAt,
					TrainingSessionID: m.unsaved.summary.TrainingSessionID,
				})
			}
		}
	}
	result := trainingresult.Result{
		Summary:       m.unsaved.summary,
		Candidates:    kept,
		CreatedAt:     m.unsaved.createdAt,
		SchemaVersion: trainingresult.SchemaVersion,
	}
	if m.deps.Results != nil {
		if err := m.deps.Results.Store(result); err != nil {
			return nil, wire.Internal("%s", err)
		}
	}
	m.unsaved = nil
	if req.Restart {
		if m.lastEvolution == nil {
			m.setState(Idle)
			return nil, wire.ResourceUnavailable("no prior evolution configuration to restart from")
		}
		t, err := m.newTrainer(*m.lastEvolution)
		if err != nil {
			m.setState(Idle)
			return nil, wire.Internal("restart failed: %s", err)
		}
		m.trainer = t
		m.setState(Evolution)
	} else {
		m.setState(Idle)
	}
	return TrainingResultSaveResponse{SavedCount: saved, DiscardedCount: discarded}, nil
}

func handleTrainingResultDiscard(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.unsaved = nil
	m.setState(Idle)
	return struct{}{}, nil
}

func handleTrainingResultList(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.Results == nil {
		return TrainingResultListResponse{}, nil
	}
	results, err := m.deps.Results.List()
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	return TrainingResultListResponse{Results: results}, nil
}

func handleTrainingResultGet(m *Machine, req TrainingResultGetRequest) (interface{}, *wire.ApiError) {
	if m.deps.Results == nil {
		return nil, wire.ResourceUnavailable("no training-result repository configured")
	}
	exists, err := m.deps.Results.Exists(req.TrainingSessionID)
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	if !exists {
		return nil, wire.ResourceUnavailable("no training result for session %s", req.TrainingSessionID)
	}
	result, err := m.deps.Results.Get(req.TrainingSessionID)
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	return result, nil
}

// handleTrainingResultSet overwrites (or inserts) a training result
// verbatim, keyed by its own training_session_id; it is the UI/CLI's
// write path for a result obtained out-of-band (e.g. re-imported from a
// backup), distinct from TrainingResultSave which only ever persists the
// Machine's own pending UnsavedTrainingResult candidates.
func handleTrainingResultSet(m *Machine, req TrainingResultSetRequest) (interface{}, *wire.ApiError) {
	if m.deps.Results == nil {
		return nil, wire.ResourceUnavailable("no training-result repository configured")
	}
	if req.Result.SchemaVersion == 0 {
		req.Result.SchemaVersion = trainingresult.SchemaVersion
	}
	if err := m.deps.Results.Store(req.Result); err != nil {
		return nil, wire.Internal("%s", err)
	}
	return struct{}{}, nil
}

func handleTrainingResultDelete(m *Machine, req TrainingResultDeleteRequest) (interface{}, *wire.ApiError) {
	if m.deps.Results == nil {
		return TrainingResultDeleteResponse{}, nil
	}
	removed, err := m.deps.Results.Remove(req.TrainingSessionID)
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	return TrainingResultDeleteResponse{Removed: removed}, nil
}

func handleGenomeList(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.Genomes == nil {
		return GenomeListResponse{}, nil
	}
	records := m.deps.Genomes.List()
	sort.Slice(records, func(i, j int) bool { return records[i].Metadata.CreatedAt.Before(records[j].Metadata.CreatedAt) })
	return GenomeListResponse{Records: records}, nil
}

func handleGenomeGet(m *Machine, req GenomeGetRequest) (interface{}, *wire.ApiError) {
	if m.deps.Genomes == nil {
		return nil, wire.ResourceUnavailable("no genome repository configured")
	}
	g, ok := m.deps.Genomes.Get(req.ID)
	if !ok {
		return nil, wire.ResourceUnavailable("unknown genome %s", req.ID)
	}
	meta, _ := m.deps.Genomes.GetMetadata(req.ID)
	return GenomeGetResponse{Genome: g, Metadata: meta}, nil
}

func handleGenomeSet(m *Machine, req GenomeSetRequest) (interface{}, *wire.ApiError) {
	if m.deps.Genomes == nil {
		return nil, wire.ResourceUnavailable("no genome repository configured")
	}
	if len(req.Genome.Weights) == 0 {
		return nil, wire.Validation("genome has no weights")
	}
	meta := req.Metadata
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	m.deps.Genomes.Store(req.ID, req.Genome, meta)
	if req.MarkAsBest {
		m.deps.Genomes.MarkAsBest(req.ID)
	}
	return struct{}{}, nil
}

func handleGenomeGetBest(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.Genomes == nil {
		return nil, wire.ResourceUnavailable("no genome repository configured")
	}
	g, meta, ok := m.deps.Genomes.GetBest()
	if !ok {
		return nil, wire.ResourceUnavailable("no best genome recorded")
	}
	return GenomeGetResponse{Genome: g, Metadata: meta}, nil
}

func handlePeersGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.TransportServer == nil {
		return PeersGetResponse{}, nil
	}
	return PeersGetResponse{ConnectionIDs: m.deps.TransportServer.Connections()}, nil
}

func handlePerfStatsGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	if m.deps.Metrics == nil {
		return PerfStatsGetResponse{}, nil
	}
	return PerfStatsGetResponse{Snapshot: m.deps.Metrics.Snapshot()}, nil
}

func handleTimerStatsGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return TimerStatsGetResponse{TickIntervalMillis: m.deps.TickInterval.Milliseconds()}, nil
}

// handleUserSettingsSet persists the opaque settings payload and
// echo-broadcasts it as UserSettingsUpdated. The settings schema is not
// frozen, so the core stores and echoes it without interpretation.
func handleUserSettingsSet(m *Machine, req UserSettingsSetRequest) (interface{}, *wire.ApiError) {
	m.userSettings = append([]byte(nil), req.Settings...)
	if m.deps.TransportServer != nil {
		m.deps.TransportServer.Broadcast("UserSettingsUpdated", UserSettingsGetResponse{Settings: m.userSettings})
	}
	return struct{}{}, nil
}

func handleUserSettingsGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return UserSettingsGetResponse{Settings: m.userSettings}, nil
}

func handleWebSocketAccessSet(m *Machine, req WebSocketAccessSetRequest) (interface{}, *wire.ApiError) {
	if m.deps.Auth == nil {
		return nil, wire.Internal("no auth configured")
	}
	m.deps.Auth.Set(req.Enabled, req.Token)
	return struct{}{}, nil
}

func handleExit(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	m.setState(Shutdown)
	return ExitResponse{Code: 0}, nil
}
