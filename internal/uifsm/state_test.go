package uifsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/transport"
	"github.com/aortez/dirtsim/internal/wire"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	reg := registry.New(registry.UI)
	return New(dispatch.NewQueue(), Deps{Registry: reg})
}

// send applies a command synchronously, bypassing the Run loop's ticker.
func send(m *Machine, name string, body interface{}) dispatch.Response {
	var resp dispatch.Response
	done := make(chan struct{})
	sink := dispatch.NewSink(func(r dispatch.Response) {
		resp = r
		close(done)
	})
	m.applyEvent(dispatch.Event{CommandName: name, Body: body, Sink: sink})
	<-done
	return resp
}

func TestNew_StartsDisconnected(t *testing.T) {
	m := newTestMachine(t)
	assert.Equal(t, Disconnected, m.State())
}

func TestOnConnected_TransitionsToStartMenu(t *testing.T) {
	m := newTestMachine(t)
	m.OnConnected()
	assert.Equal(t, StartMenu, m.State())

	// Idempotent: a second connect notification from a reconnect
	// attempt must not disturb a later state.
	m.setState(SimRunning)
	m.OnConnected()
	assert.Equal(t, SimRunning, m.State())
}

func TestStateGate_TrainingSaveRejectedOutsideUnsavedResult(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	resp := send(m, "TrainingResultSave", TrainingResultSaveRequest{IDs: []string{"x"}})
	require.NotNil(t, resp.Err)
	assert.Equal(t, wire.KindStateMismatch, resp.Err.Kind)
	assert.Equal(t, StartMenu, m.State())
}

func TestMouseCommands_AcceptedWhileConnected(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	for _, name := range []string{"MouseDown", "MouseMove", "MouseUp"} {
		resp := send(m, name, MouseRequest{X: 10, Y: 20})
		require.Nil(t, resp.Err, "command %s", name)
	}
}

func TestIconSelect_UpdatesStatus(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	require.Nil(t, send(m, "IconSelect", IconSelectRequest{IconID: "training"}).Err)
	require.Nil(t, send(m, "IconRailExpand", IconRailExpandRequest{Expanded: true}).Err)

	resp := send(m, "StatusGet", emptyRequest{})
	require.Nil(t, resp.Err)
	status, ok := resp.Value.(StatusGetResponse)
	require.True(t, ok)
	assert.Equal(t, "training", status.SelectedIcon)
	assert.True(t, status.RailExpanded)
}

func TestSimRun_WithoutServerConnectionFails(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	resp := send(m, "SimRun", SimRunRequest{Timestep: 1.0 / 60})
	require.NotNil(t, resp.Err)
	assert.Equal(t, wire.KindResourceUnavailable, resp.Err.Kind)
	assert.Equal(t, StartMenu, m.State())
}

func TestOnBroadcast_TrainingResultFlipsToUnsavedResult(t *testing.T) {
	m := newTestMachine(t)
	m.setState(TrainingActive)

	m.OnBroadcast("TrainingResultAvailable", []string{"c1", "c2"})
	assert.Equal(t, TrainingUnsavedResult, m.State())
	assert.Equal(t, []string{"c1", "c2"}, m.lastResultIDs)

	// Other broadcasts never drive state.
	m.OnBroadcast("EvolutionProgress", nil)
	assert.Equal(t, TrainingUnsavedResult, m.State())
}

func TestOnBroadcast_IgnoredOutsideTrainingActive(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)
	m.OnBroadcast("TrainingResultAvailable", []string{"c1"})
	assert.Equal(t, StartMenu, m.State())
}

func TestScreenGrab_EchoesRequestedPath(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	resp := send(m, "ScreenGrab", ScreenGrabRequest{Path: "/tmp/grab.png"})
	require.Nil(t, resp.Err)
	assert.Equal(t, "/tmp/grab.png", resp.Value.(ScreenGrabResponse).Path)
}

func TestStreamStart_WithoutVideoCollaboratorFails(t *testing.T) {
	m := newTestMachine(t)
	m.setState(StartMenu)

	resp := send(m, "StreamStart", StreamStartRequest{ConnectionID: "conn-1", OfferSDP: "v=0"})
	require.NotNil(t, resp.Err)
	assert.Equal(t, wire.KindResourceUnavailable, resp.Err.Kind)
}

func TestWebSocketAccessSet_TogglesAuth(t *testing.T) {
	m := newTestMachine(t)
	auth := transport.NewAuth()
	m.deps.Auth = auth
	m.setState(StartMenu)

	resp := send(m, "WebSocketAccessSet", WebSocketAccessSetRequest{Enabled: true, Token: "T"})
	require.Nil(t, resp.Err)
	assert.True(t, auth.Enabled())

	resp = send(m, "WebSocketAccessSet", WebSocketAccessSetRequest{Enabled: false})
	require.Nil(t, resp.Err)
	assert.False(t, auth.Enabled())
}

func TestExit_ReachesShutdownFromAnyLiveState(t *testing.T) {
	for _, st := range stAllLive {
		m := newTestMachine(t)
		m.setState(st)

		resp := send(m, "Exit", emptyRequest{})
		require.Nil(t, resp.Err, "from %v", st)
		assert.Equal(t, Shutdown, m.State(), "from %v", st)
		assert.Equal(t, 0, resp.Value.(ExitResponse).Code)
	}
}

func TestUnknownCommand_FailsWithSchemaError(t *testing.T) {
	m := newTestMachine(t)
	resp := send(m, "NoSuchCommand", emptyRequest{})
	require.NotNil(t, resp.Err)
	assert.Equal(t, wire.KindSchema, resp.Err.Kind)
}
