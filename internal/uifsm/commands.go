// UI command request/response bodies and their registration, mirroring
// internal/serverfsm/commands.go's registerJSON helper and
// JSON-in-binary-payload codec choice.
package uifsm

import (
	"encoding/json"

	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/wire"
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

type emptyRequest struct{}

type StateGetResponse struct {
	State string `json:"state"`
}

type StatusGetResponse struct {
	State        string `json:"state"`
	SelectedIcon string `json:"selected_icon"`
	RailExpanded bool   `json:"rail_expanded"`
}

type MouseRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type IconSelectRequest struct {
	IconID string `json:"icon_id"`
}

type IconRailExpandRequest struct {
	Expanded bool `json:"expanded"`
}

type IconRailShowIconsRequest struct {
	Visible bool `json:"visible"`
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

// MarshalBody mirrors the Server-side SimRun field order so the forward
// over the binary protocol decodes field-for-field on the other end.
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

type TrainingStartRequest struct {
	ScenarioID   string                   `json:"scenario_id"`
	OrganismType string                   `json:"organism_type"`
	Config       map[string]interface{}   `json:"config"`
	Mutation     map[string]interface{}   `json:"mutation"`
	Population   []map[string]interface{} `json:"population"`
}

type TrainingResultSaveRequest struct {
	IDs     []string `json:"ids"`
	Restart bool     `json:"restart"`
}

type TrainingConfigShowEvolutionRequest struct {
	Visible bool `json:"visible"`
}

type GenomeBrowserOpenRequest struct{}

type GenomeDetailOpenRequest struct {
	ID string `json:"id"`
}

type GenomeDetailLoadRequest struct {
	ID string `json:"id"`
}

type SynthKeyEventRequest struct {
	Note     int  `json:"note"`
	Velocity int  `json:"velocity"`
	NoteOn   bool `json:"note_on"`
}

type ScreenGrabRequest struct {
	Path string `json:"path"`
}

type ScreenGrabResponse struct {
	Path string `json:"path"`
}

type StreamStartRequest struct {
	ConnectionID string `json:"connection_id"`
	OfferSDP     string `json:"offer_sdp"`
}

type StreamStartResponse struct {
	AnswerSDP string `json:"answer_sdp"`
}

type WebRtcAnswerRequest struct {
	ConnectionID string `json:"connection_id"`
	AnswerSDP    string `json:"answer_sdp"`
}

type WebRtcCandidateRequest struct {
	ConnectionID string `json:"connection_id"`
	Candidate    string `json:"candidate"`
}

type WebSocketAccessSetRequest struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type ExitResponse struct {
	Code int `json:"code"`
}

var (
	stConnected = []State{StartMenu, SimRunning, TrainingActive, TrainingUnsavedResult}
	stAllLive   = []State{Disconnected, StartMenu, SimRunning, TrainingActive, TrainingUnsavedResult}
)

func registerCommands(m *Machine, reg *registry.Registry) {
	registerJSON(m, reg, "StateGet", false, stAllLive, handleStateGet)
	registerJSON(m, reg, "StatusGet", false, stAllLive, handleStatusGet)

	registerJSON(m, reg, "MouseDown", false, stConnected, handleMouse)
	registerJSON(m, reg, "MouseMove", false, stConnected, handleMouse)
	registerJSON(m, reg, "MouseUp", false, stConnected, handleMouse)

	registerJSON(m, reg, "IconSelect", false, stConnected, handleIconSelect)
	registerJSON(m, reg, "IconRailExpand", false, stConnected, handleIconRailExpand)
	registerJSON(m, reg, "IconRailShowIcons", false, stConnected, handleIconRailShowIcons)

	registerJSON(m, reg, "SimRun", true, []State{StartMenu}, handleSimRun)
	registerJSON(m, reg, "SimPause", true, []State{SimRunning}, handleSimPause)
	registerJSON(m, reg, "SimStop", true, []State{SimRunning}, handleSimStop)

	registerJSON(m, reg, "TrainingStart", true, []State{StartMenu}, handleTrainingStart)
	registerJSON(m, reg, "TrainingResultSave", true, []State{TrainingUnsavedResult}, handleTrainingResultSave)
	registerJSON(m, reg, "TrainingResultDiscard", true, []State{TrainingUnsavedResult}, handleTrainingResultDiscard)
	registerJSON(m, reg, "TrainingConfigShowEvolution", false, stConnected, handleTrainingConfigShowEvolution)

	registerJSON(m, reg, "GenomeBrowserOpen", false, stConnected, handleGenomeBrowserOpen)
	registerJSON(m, reg, "GenomeDetailOpen", false, stConnected, handleGenomeDetailOpen)
	registerJSON(m, reg, "GenomeDetailLoad", false, stConnected, handleGenomeDetailLoad)

	registerJSON(m, reg, "SynthKeyEvent", false, stConnected, handleSynthKeyEvent)
	registerJSON(m, reg, "ScreenGrab", false, stAllLive, handleScreenGrab)

	registerJSON(m, reg, "StreamStart", false, stConnected, handleStreamStart)
	registerJSON(m, reg, "WebRtcAnswer", false, stConnected, handleWebRtcAnswer)
	registerJSON(m, reg, "WebRtcCandidate", false, stConnected, handleWebRtcCandidate)

	registerJSON(m, reg, "WebSocketAccessSet", true, stAllLive, handleWebSocketAccessSet)

	registerJSON(m, reg, "Exit", true, append(append([]State{}, stAllLive...), Shutdown), handleExit)
}
