package uifsm

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/aortez/dirtsim/internal/wire"
)

func handleStateGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return StateGetResponse{State: m.State().String()}, nil
}

func handleStatusGet(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	return StatusGetResponse{State: m.State().String(), SelectedIcon: m.selectedIcon, RailExpanded: m.railExpanded}, nil
}

func handleMouse(m *Machine, _ MouseRequest) (interface{}, *wire.ApiError) {
	// Mouse events drive the local LVGL widget tree directly; the core
	// only needs to accept them in a live state.
	return struct{}{}, nil
}

func handleIconSelect(m *Machine, req IconSelectRequest) (interface{}, *wire.ApiError) {
	m.selectedIcon = req.IconID
	return struct{}{}, nil
}

func handleIconRailExpand(m *Machine, req IconRailExpandRequest) (interface{}, *wire.ApiError) {
	m.railExpanded = req.Expanded
	return struct{}{}, nil
}

func handleIconRailShowIcons(m *Machine, _ IconRailShowIconsRequest) (interface{}, *wire.ApiError) {
	return struct{}{}, nil
}

func handleSimRun(m *Machine, req SimRunRequest) (interface{}, *wire.ApiError) {
	ctx := context.Background()
	res := m.forward(ctx, "SimRun", req)
	if !res.IsOk() {
		return nil, res.Err
	}
	m.setState(SimRunning)
	return struct{}{}, nil
}

func handleSimPause(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "SimPause", emptyRequest{})
	if !res.IsOk() {
		return nil, res.Err
	}
	return struct{}{}, nil
}

func handleSimStop(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "SimStop", emptyRequest{})
	if !res.IsOk() {
		return nil, res.Err
	}
	m.setState(StartMenu)
	return struct{}{}, nil
}

func handleTrainingStart(m *Machine, req TrainingStartRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "EvolutionStart", req)
	if !res.IsOk() {
		return nil, res.Err
	}
	m.setState(TrainingActive)
	return struct{}{}, nil
}

func handleTrainingResultSave(m *Machine, req TrainingResultSaveRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "TrainingResultSave", req)
	if !res.IsOk() {
		return nil, res.Err
	}
	if req.Restart {
		m.setState(TrainingActive)
	} else {
		m.setState(StartMenu)
	}
	m.lastResultIDs = nil
	return struct{}{}, nil
}

func handleTrainingResultDiscard(m *Machine, _ emptyRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "TrainingResultDiscard", emptyRequest{})
	if !res.IsOk() {
		return nil, res.Err
	}
	m.setState(StartMenu)
	m.lastResultIDs = nil
	return struct{}{}, nil
}

func handleTrainingConfigShowEvolution(m *Machine, _ TrainingConfigShowEvolutionRequest) (interface{}, *wire.ApiError) {
	return struct{}{}, nil
}

func handleGenomeBrowserOpen(m *Machine, _ GenomeBrowserOpenRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "GenomeList", struct{}{})
	if !res.IsOk() {
		return nil, res.Err
	}
	return res.Value, nil
}

func handleGenomeDetailOpen(m *Machine, req GenomeDetailOpenRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "GenomeGet", req)
	if !res.IsOk() {
		return nil, res.Err
	}
	return res.Value, nil
}

func handleGenomeDetailLoad(m *Machine, req GenomeDetailLoadRequest) (interface{}, *wire.ApiError) {
	res := m.forward(context.Background(), "GenomeGet", req)
	if !res.IsOk() {
		return nil, res.Err
	}
	return res.Value, nil
}

func handleSynthKeyEvent(m *Machine, _ SynthKeyEventRequest) (interface{}, *wire.ApiError) {
	// The audio synthesizer service is an external collaborator; the UI only
	// accepts and would forward this event, not interpret it.
	return struct{}{}, nil
}

func handleScreenGrab(m *Machine, req ScreenGrabRequest) (interface{}, *wire.ApiError) {
	// Display capture is an external collaborator; this only
	// acknowledges the requested destination path.
	return ScreenGrabResponse{Path: req.Path}, nil
}

func handleStreamStart(m *Machine, req StreamStartRequest) (interface{}, *wire.ApiError) {
	if m.deps.Video == nil {
		return nil, wire.ResourceUnavailable("no video collaborator configured")
	}
	answer, err := m.deps.Video.StreamStart(req.ConnectionID, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.OfferSDP})
	if err != nil {
		return nil, wire.Internal("%s", err)
	}
	return StreamStartResponse{AnswerSDP: answer.SDP}, nil
}

func handleWebRtcAnswer(m *Machine, req WebRtcAnswerRequest) (interface{}, *wire.ApiError) {
	if m.deps.Video == nil {
		return nil, wire.ResourceUnavailable("no video collaborator configured")
	}
	if err := m.deps.Video.WebRtcAnswer(req.ConnectionID, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: req.AnswerSDP}); err != nil {
		return nil, wire.Internal("%s", err)
	}
	return struct{}{}, nil
}

func handleWebRtcCandidate(m *Machine, req WebRtcCandidateRequest) (interface{}, *wire.ApiError) {
	if m.deps.Video == nil {
		return nil, wire.ResourceUnavailable("no video collaborator configured")
	}
	if err := m.deps.Video.WebRtcCandidate(req.ConnectionID, webrtc.ICECandidateInit{Candidate: req.Candidate}); err != nil {
		return nil, wire.Internal("%s", err)
	}
	return struct{}{}, nil
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
