// Command request/response bodies and their registration. Each command
// gets one entry in both the transport-facing registry.Registry (decode
// shape) and the Machine's own handler/accept-state table (business
// logic + gating).
package serverfsm

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/metrics"
	"github.com/aortez/dirtsim/internal/organism"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/trainer"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/wire"
	"github.com/aortez/dirtsim/internal/world"
)

func decodeJSONAs[Req any](fields json.RawMessage) (interface{}, error) {
	var req Req
	if len(fields) > 0 && string(fields) != "null" {
		if err := json.Unmarshal(fields, &req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func decodeBinaryJSONAs[Req any](r *wire.Reader) (interface{}, error) {
	var req Req
	if err := wire.DecodeBinaryJSON(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// registerJSON wires one command's JSON-in-binary-payload codec into
// reg and its handler/accept-set into m; see envelope.go for why the
// bulk of command bodies share this encoding instead of a hand-written
// per-field binary codec apiece.
func registerJSON[Req any](m *Machine, reg *registry.Registry, name string, mutates bool, accepted []State, handler func(*Machine, Req) (interface{}, *wire.ApiError)) {
	reg.Register(&registry.Descriptor{
		Name:         name,
		Mutates:      mutates,
		HasResponse:  true,
		DecodeBinary: decodeBinaryJSONAs[Req],
		DecodeJSON:   decodeJSONAs[Req],
	})
	m.register(name, accepted, func(m *Machine, body interface{}) (interface{}, *wire.ApiError) {
		req, _ := body.(Req)
		return handler(m, req)
	})
}

// registerBinary wires a hot-path command whose bodies carry
// hand-written field-by-field binary codecs (BodyMarshaler /
// BodyUnmarshaler); the JSON framing decodes the same shapes for
// browser/CLI use. Trailing bytes after a decoded body are a schema
// error, never silently ignored.
func registerBinary[Req any, P interface {
	*Req
	wire.BodyUnmarshaler
}](m *Machine, reg *registry.Registry, name string, mutates bool, accepted []State, encodeOkay func(interface{}, *wire.Writer) error, decodeOkay func(*wire.Reader) (interface{}, error), handler func(*Machine, Req) (interface{}, *wire.ApiError)) {
	reg.Register(&registry.Descriptor{
		Name:        name,
		Mutates:     mutates,
		HasResponse: true,
		DecodeBinary: func(r *wire.Reader) (interface{}, error) {
			var req Req
			if err := P(&req).UnmarshalBody(r); err != nil {
				return nil, err
			}
			if r.Remaining() != 0 {
				return nil, fmt.Errorf("%d trailing bytes after %s body", r.Remaining(), name)
			}
			return req, nil
		},
		DecodeJSON:       decodeJSONAs[Req],
		EncodeOkayBinary: encodeOkay,
		DecodeOkayBinary: decodeOkay,
	})
	m.register(name, accepted, func(m *Machine, body interface{}) (interface{}, *wire.ApiError) {
		req, _ := body.(Req)
		return handler(m, req)
	})
}

func encodeEmptyOkay(interface{}, *wire.Writer) error { return nil }

func decodeEmptyOkay(*wire.Reader) (interface{}, error) { return struct{}{}, nil }

func encodeOkayAs[Okay wire.BodyMarshaler]() func(interface{}, *wire.Writer) error {
	return func(v interface{}, w *wire.Writer) error {
		resp, ok := v.(Okay)
		if !ok {
			return fmt.Errorf("unexpected okay body %T", v)
		}
		return resp.MarshalBody(w)
	}
}

func decodeOkayAs[Okay any, P interface {
	*Okay
	wire.BodyUnmarshaler
}]() func(*wire.Reader) (interface{}, error) {
	return func(r *wire.Reader) (interface{}, error) {
		var resp Okay
		if err := P(&resp).UnmarshalBody(r); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// --- request/response bodies ---

type emptyRequest struct{}

func (emptyRequest) MarshalBody(*wire.Writer) error { return nil }

func (*emptyRequest) UnmarshalBody(*wire.Reader) error { return nil }

type StateGetResponse struct {
	State string `json:"state"`
}

type StatusGetResponse struct {
	State          string  `json:"state"`
	WorldWidth     int     `json:"world_width"`
	WorldHeight    int     `json:"world_height"`
	Timestep       float64 `json:"timestep"`
	Generation     int     `json:"generation"`
	CurrentEval    int     `json:"current_eval"`
	ConnectedConns int     `json:"connected_conns"`
}

func (resp StatusGetResponse) MarshalBody(w *wire.Writer) error {
	w.WriteString(resp.State)
	w.WriteInt64(int64(resp.WorldWidth))
	w.WriteInt64(int64(resp.WorldHeight))
	w.WriteFloat64(resp.Timestep)
	w.WriteInt64(int64(resp.Generation))
	w.WriteInt64(int64(resp.CurrentEval))
	w.WriteInt64(int64(resp.ConnectedConns))
	return nil
}

func (resp *StatusGetResponse) UnmarshalBody(r *wire.Reader) error {
	var err error
	if resp.State, err = r.ReadString(); err != nil {
		return wire.FieldError("state", err)
	}
	var v int64
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("world_width", err)
	}
	resp.WorldWidth = int(v)
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("world_height", err)
	}
	resp.WorldHeight = int(v)
	if resp.Timestep, err = r.ReadFloat64(); err != nil {
		return wire.FieldError("timestep", err)
	}
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("generation", err)
	}
	resp.Generation = int(v)
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("current_eval", err)
	}
	resp.CurrentEval = int(v)
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("connected_conns", err)
	}
	resp.ConnectedConns = int(v)
	return nil
}

type SimRunRequest struct {
	Timestep        float64 `json:"timestep"`
	MaxSteps        int     `json:"max_steps"`
	MaxFrameMillis  int     `json:"max_frame_ms"`
	ScenarioID      *string `json:"scenario_id,omitempty"`
	StartPaused     bool    `json:"start_paused"`
	ContainerWidth  int     `json:"container_width"`
	ContainerHeight int     `json:"container_height"`
}

func (req SimRunRequest) MarshalBody(w *wire.Writer) error {
	w.WriteFloat64(req.Timestep)
	w.WriteInt64(int64(req.MaxSteps))
	w.WriteInt64(int64(req.MaxFrameMillis))
	w.WriteOptionalString(req.ScenarioID)
	w.WriteBool(req.StartPaused)
	w.WriteInt64(int64(req.ContainerWidth))
	w.WriteInt64(int64(req.ContainerHeight))
	return nil
}

func (req *SimRunRequest) UnmarshalBody(r *wire.Reader) error {
	var err error
	if req.Timestep, err = r.ReadFloat64(); err != nil {
		return wire.FieldError("timestep", err)
	}
	var v int64
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("max_steps", err)
	}
	req.MaxSteps = int(v)
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("max_frame_ms", err)
	}
	req.MaxFrameMillis = int(v)
	if req.ScenarioID, err = r.ReadOptionalString(); err != nil {
		return wire.FieldError("scenario_id", err)
	}
	if req.StartPaused, err = r.ReadBool(); err != nil {
		return wire.FieldError("start_paused", err)
	}
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("container_width", err)
	}
	req.ContainerWidth = int(v)
	if v, err = r.ReadInt64(); err != nil {
		return wire.FieldError("container_height", err)
	}
	req.ContainerHeight = int(v)
	return nil
}

type WorldResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CellSetRequest struct {
	X     int32 `json:"x"`
	Y     int32 `json:"y"`
	Value uint8 `json:"value"`
}

func (req CellSetRequest) MarshalBody(w *wire.Writer) error {
	w.WriteInt32(req.X)
	w.WriteInt32(req.Y)
	w.WriteUint8(req.Value)
	return nil
}

func (req *CellSetRequest) UnmarshalBody(r *wire.Reader) error {
	var err error
	if req.X, err = r.ReadInt32(); err != nil {
		return wire.FieldError("x", err)
	}
	if req.Y, err = r.ReadInt32(); err != nil {
		return wire.FieldError("y", err)
	}
	if req.Value, err = r.ReadUint8(); err != nil {
		return wire.FieldError("value", err)
	}
	return nil
}

type CellGetRequest struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func (req CellGetRequest) MarshalBody(w *wire.Writer) error {
	w.WriteInt32(req.X)
	w.WriteInt32(req.Y)
	return nil
}

func (req *CellGetRequest) UnmarshalBody(r *wire.Reader) error {
	var err error
	if req.X, err = r.ReadInt32(); err != nil {
		return wire.FieldError("x", err)
	}
	if req.Y, err = r.ReadInt32(); err != nil {
		return wire.FieldError("y", err)
	}
	return nil
}

type CellGetResponse struct {
	Value uint8 `json:"value"`
}

func (resp CellGetResponse) MarshalBody(w *wire.Writer) error {
	w.WriteUint8(resp.Value)
	return nil
}

func (resp *CellGetResponse) UnmarshalBody(r *wire.Reader) error {
	var err error
	if resp.Value, err = r.ReadUint8(); err != nil {
		return wire.FieldError("value", err)
	}
	return nil
}

type EventSubscribeRequest struct {
	Enabled      bool   `json:"enabled"`
	ConnectionID string `json:"connection_id"`
}

type RenderFormatSetRequest struct {
	Format       string `json:"format"`
	ConnectionID string `json:"connection_id"`
}

type RenderFormatGetResponse struct {
	Format string `json:"format"`
}

type FingerRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ScenarioListGetResponse struct {
	ScenarioIDs []string `json:"scenario_ids"`
}

type EvolutionStartRequest struct {
	Config       trainer.EvolutionConfig  `json:"config"`
	Mutation     organism.MutationConfig  `json:"mutation"`
	ScenarioID   string                   `json:"scenario_id"`
	OrganismType string                   `json:"organism_type"`
	Population   []trainer.PopulationSpec `json:"population"`
}

type TrainingResultSaveRequest struct {
	IDs     []uuid.UUID `json:"ids"`
	Restart bool        `json:"restart"`
}

type TrainingResultSaveResponse struct {
	SavedCount     int `json:"saved_count"`
	DiscardedCount int `json:"discarded_count"`
}

type GenomeGetRequest struct {
	ID uuid.UUID `json:"id"`
}

type GenomeSetRequest struct {
	ID         uuid.UUID       `json:"id"`
	Genome     genome.Genome   `json:"genome"`
	Metadata   genome.Metadata `json:"metadata"`
	MarkAsBest bool            `json:"mark_as_best"`
}

type GenomeGetResponse struct {
	Genome   genome.Genome   `json:"genome"`
	Metadata genome.Metadata `json:"metadata"`
}

type GenomeListResponse struct {
	Records []genome.Record `json:"records"`
}

type TrainingResultGetRequest struct {
	TrainingSessionID uuid.UUID `json:"training_session_id"`
}

type TrainingResultListResponse struct {
	Results []trainingresult.Result `json:"results"`
}

type TrainingResultDeleteRequest struct {
	TrainingSessionID uuid.UUID `json:"training_session_id"`
}

type TrainingResultDeleteResponse struct {
	Removed bool `json:"removed"`
}

type PeersGetResponse struct {
	ConnectionIDs []string `json:"connection_ids"`
}

type PerfStatsGetResponse struct {
	metrics.Snapshot
}

type TimerStatsGetResponse struct {
	TickIntervalMillis int64 `json:"tick_interval_millis"`
}

type WebSocketAccessSetRequest struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type ExitResponse struct {
	Code int `json:"code"`
}

type GravitySetRequest struct {
	Gravity float64 `json:"gravity"`
}

type PhysicsSettingsSetRequest struct {
	Settings world.PhysicsSettings `json:"settings"`
}

type PhysicsSettingsGetResponse struct {
	Settings world.PhysicsSettings `json:"settings"`
}

type ScenarioConfigSetRequest struct {
	// Fields is opaque to the core; only the concrete scenario
	// interprets it.
	Fields json.RawMessage `json:"fields"`
}

type ScenarioSwitchRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type SeedAddRequest struct {
	X     int32 `json:"x"`
	Y     int32 `json:"y"`
	Value uint8 `json:"value"`
}

type SpawnDirtBallRequest struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Radius int32 `json:"radius"`
	Value  uint8 `json:"value"`
}

type ResetRequest struct{}

type TrainingResultSetRequest struct {
	Result trainingresult.Result `json:"result"`
}

type UserSettingsSetRequest struct {
	// Settings is opaque to the core; it is stored verbatim and
	// echo-broadcast as UserSettingsUpdated.
	Settings json.RawMessage `json:"settings"`
}

type UserSettingsGetResponse struct {
	Settings json.RawMessage `json:"settings"`
}

var (
	stNoMutation = []State{Idle, SimRunning, SimPaused, Evolution, UnsavedTrainingResult}
	stSimActive  = []State{SimRunning, SimPaused}
)

func registerCommands(m *Machine, reg *registry.Registry) {
	registerJSON(m, reg, "StateGet", false, allStatesExcept(PreStartup, Startup), handleStateGet)
	registerBinary[emptyRequest, *emptyRequest](m, reg, "StatusGet", false, allStatesExcept(PreStartup, Startup),
		encodeOkayAs[StatusGetResponse](), decodeOkayAs[StatusGetResponse, *StatusGetResponse](), handleStatusGet)
	registerJSON(m, reg, "ScenarioListGet", false, stNoMutation, handleScenarioListGet)

	registerBinary[SimRunRequest, *SimRunRequest](m, reg, "SimRun", true, []State{Idle},
		encodeEmptyOkay, decodeEmptyOkay, handleSimRun)
	registerJSON(m, reg, "SimStop", true, stSimActive, handleSimStop)
	registerJSON(m, reg, "SimPause", true, []State{SimRunning}, handleSimPause)
	registerJSON(m, reg, "SimResume", true, []State{SimPaused}, handleSimResume)
	registerJSON(m, reg, "WorldResize", true, stSimActive, handleWorldResize)
	registerJSON(m, reg, "Reset", true, stSimActive, handleReset)
	registerBinary[CellSetRequest, *CellSetRequest](m, reg, "CellSet", true, stSimActive,
		encodeEmptyOkay, decodeEmptyOkay, handleCellSet)
	registerBinary[CellGetRequest, *CellGetRequest](m, reg, "CellGet", false, stSimActive,
		encodeOkayAs[CellGetResponse](), decodeOkayAs[CellGetResponse, *CellGetResponse](), handleCellGet)
	registerJSON(m, reg, "FingerDown", true, stSimActive, handleFingerDown)
	registerJSON(m, reg, "FingerMove", true, stSimActive, handleFingerMove)
	registerJSON(m, reg, "FingerUp", true, stSimActive, handleFingerUp)
	registerJSON(m, reg, "GravitySet", true, stSimActive, handleGravitySet)
	registerJSON(m, reg, "PhysicsSettingsSet", true, stSimActive, handlePhysicsSettingsSet)
	registerJSON(m, reg, "PhysicsSettingsGet", false, stSimActive, handlePhysicsSettingsGet)
	registerJSON(m, reg, "ScenarioConfigSet", true, stSimActive, handleScenarioConfigSet)
	registerJSON(m, reg, "ScenarioSwitch", true, stSimActive, handleScenarioSwitch)
	registerJSON(m, reg, "SeedAdd", true, stSimActive, handleSeedAdd)
	registerJSON(m, reg, "SpawnDirtBall", true, stSimActive, handleSpawnDirtBall)

	registerJSON(m, reg, "EventSubscribe", false, allStatesExcept(PreStartup, Startup, ErrorState), handleEventSubscribe)
	registerJSON(m, reg, "RenderFormatSet", false, allStatesExcept(PreStartup, Startup, ErrorState), handleRenderFormatSet)
	registerJSON(m, reg, "RenderFormatGet", false, allStatesExcept(PreStartup, Startup, ErrorState), handleRenderFormatGet)

	registerJSON(m, reg, "EvolutionStart", true, []State{Idle}, handleEvolutionStart)
	registerJSON(m, reg, "EvolutionStop", true, []State{Evolution}, handleEvolutionStop)

	registerJSON(m, reg, "TrainingResultSave", true, []State{UnsavedTrainingResult}, handleTrainingResultSave)
	registerJSON(m, reg, "TrainingResultDiscard", true, []State{UnsavedTrainingResult}, handleTrainingResultDiscard)
	registerJSON(m, reg, "TrainingResultList", false, stNoMutation, handleTrainingResultList)
	registerJSON(m, reg, "TrainingResultGet", false, stNoMutation, handleTrainingResultGet)
	registerJSON(m, reg, "TrainingResultSet", true, stNoMutation, handleTrainingResultSet)
	registerJSON(m, reg, "TrainingResultDelete", true, stNoMutation, handleTrainingResultDelete)

	registerJSON(m, reg, "GenomeList", false, stNoMutation, handleGenomeList)
	registerJSON(m, reg, "GenomeGet", false, stNoMutation, handleGenomeGet)
	registerJSON(m, reg, "GenomeSet", true, stNoMutation, handleGenomeSet)
	registerJSON(m, reg, "GenomeGetBest", false, stNoMutation, handleGenomeGetBest)

	registerJSON(m, reg, "UserSettingsSet", true, stNoMutation, handleUserSettingsSet)
	registerJSON(m, reg, "UserSettingsGet", false, stNoMutation, handleUserSettingsGet)

	registerJSON(m, reg, "PeersGet", false, stNoMutation, handlePeersGet)
	registerJSON(m, reg, "PerfStatsGet", false, stNoMutation, handlePerfStatsGet)
	registerJSON(m, reg, "TimerStatsGet", false, stNoMutation, handleTimerStatsGet)
	registerJSON(m, reg, "WebSocketAccessSet", true, stNoMutation, handleWebSocketAccessSet)

	registerJSON(m, reg, "Exit", true, allStates(), handleExit)
}

func allStates() []State {
	return []State{PreStartup, Startup, Idle, SimRunning, SimPaused, Evolution, UnsavedTrainingResult, ErrorState, Shutdown}
}

func allStatesExcept(excluded ...State) []State {
	skip := make(map[State]bool, len(excluded))
	for _, s := range excluded {
		skip[s] = true
	}
	var out []State
	for _, s := range allStates() {
		if !skip[s] {
			out = append(out, s)
		}
	}
	return out
}
