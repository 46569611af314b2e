package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServer_Defaults(t *testing.T) {
	cfg, err := ParseServer(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.AccessEnabled)
	assert.Equal(t, 16*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, BackendMemory, cfg.ResultsBackend)
}

func TestParseServer_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := ParseServer([]string{
		"-host", "0.0.0.0",
		"-port", "9090",
		"-access-token", "tok",
		"-access-enabled=true",
		"-tick-ms", "33",
		"-results-backend", "sqlite",
		"-results-db", "custom.db",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "tok", cfg.AccessToken)
	assert.True(t, cfg.AccessEnabled)
	assert.Equal(t, 33*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, BackendSQLite, cfg.ResultsBackend)
	assert.Equal(t, "custom.db", cfg.ResultsDBPath)
}

func TestParseServer_EnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("DIRTSIM_PORT", "1234")

	cfg, err := ParseServer(nil)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)

	cfg, err = ParseServer([]string{"-port", "5555"})
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Port)
}

func TestParseUI_Defaults(t *testing.T) {
	cfg, err := ParseUI(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.ServerURL)
	assert.Equal(t, 16*time.Millisecond, cfg.TickInterval)
}

func TestParseCLI_DefaultURLTracksTarget(t *testing.T) {
	cfg, err := ParseCLI([]string{"-target", "ui", "-command", "StateGet"})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:7070/ws", cfg.URL)

	cfg, err = ParseCLI([]string{"-command", "StateGet"})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.URL)
}

func TestParseCLI_ExplicitURLIsNotOverridden(t *testing.T) {
	cfg, err := ParseCLI([]string{"-target", "ui", "-url", "ws://example.com/ws", "-command", "StateGet"})
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com/ws", cfg.URL)
}

func TestParseCLI_TimeoutParsesToMilliseconds(t *testing.T) {
	cfg, err := ParseCLI([]string{"-command", "StateGet", "-timeout-ms", "2500"})
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
}
