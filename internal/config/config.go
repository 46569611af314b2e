// Package config loads process configuration from flags with
// environment-variable overrides. Flags win over environment values,
// which win over the built-in defaults; none of the three processes
// reads a config file.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Backend selects the training-result repository implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// Server is the flat configuration struct for the dirtsim-server
// process.
type Server struct {
	Host           string
	Port           int
	AccessToken    string
	AccessEnabled  bool
	TickInterval   time.Duration
	ResultsBackend Backend
	ResultsDBPath  string
}

// UI is the flat configuration struct for the dirtsim-ui process.
type UI struct {
	Host         string
	Port         int
	ServerURL    string
	TickInterval time.Duration
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ParseServer parses args (typically os.Args[1:]) into a Server config.
// Flags take precedence over environment variables, which take
// precedence over the documented defaults.
func ParseServer(args []string) (*Server, error) {
	fs := flag.NewFlagSet("dirtsim-server", flag.ContinueOnError)
	cfg := &Server{}

	fs.StringVar(&cfg.Host, "host", envOrDefault("DIRTSIM_HOST", "127.0.0.1"), "listen host (use 0.0.0.0 with -access-token for network access)")
	fs.IntVar(&cfg.Port, "port", envIntOrDefault("DIRTSIM_PORT", 8080), "server listen port")
	fs.StringVar(&cfg.AccessToken, "access-token", envOrDefault("DIRTSIM_ACCESS_TOKEN", ""), "bearer token required for non-loopback connections")
	fs.BoolVar(&cfg.AccessEnabled, "access-enabled", envBoolOrDefault("DIRTSIM_ACCESS_ENABLED", false), "enable token-gated non-loopback access")
	tickMs := fs.Int("tick-ms", envIntOrDefault("DIRTSIM_TICK_MS", 16), "main-loop tick interval in milliseconds")
	backend := fs.String("results-backend", envOrDefault("DIRTSIM_RESULTS_BACKEND", string(BackendMemory)), "training-result backend: memory or sqlite")
	fs.StringVar(&cfg.ResultsDBPath, "results-db", envOrDefault("DIRTSIM_RESULTS_DB", "dirtsim-results.db"), "sqlite database path when -results-backend=sqlite")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.TickInterval = time.Duration(*tickMs) * time.Millisecond
	cfg.ResultsBackend = Backend(*backend)
	return cfg, nil
}

// ParseUI parses args into a UI config.
func ParseUI(args []string) (*UI, error) {
	fs := flag.NewFlagSet("dirtsim-ui", flag.ContinueOnError)
	cfg := &UI{}

	fs.StringVar(&cfg.Host, "host", envOrDefault("DIRTSIM_UI_HOST", "127.0.0.1"), "listen host for the UI's own command surface")
	fs.IntVar(&cfg.Port, "port", envIntOrDefault("DIRTSIM_UI_PORT", 7070), "UI listen port")
	fs.StringVar(&cfg.ServerURL, "server-url", envOrDefault("DIRTSIM_SERVER_URL", "ws://127.0.0.1:8080/ws"), "Server WebSocket URL the UI drives")
	tickMs := fs.Int("tick-ms", envIntOrDefault("DIRTSIM_UI_TICK_MS", 16), "UI main-loop tick interval in milliseconds")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.TickInterval = time.Duration(*tickMs) * time.Millisecond
	return cfg, nil
}

// CLI is the flat configuration struct for the dirtsim-cli process.
type CLI struct {
	Target  string // "server" or "ui"
	URL     string
	Command string
	Args    string // raw JSON object, decoded by the command's registered request type
	Timeout time.Duration
}

// ParseCLI parses args into a CLI config. Unlike ParseServer/ParseUI
// this has no environment-variable layer: the CLI is invoked afresh per
// script call, not run as a long-lived process.
func ParseCLI(args []string) (*CLI, error) {
	fs := flag.NewFlagSet("dirtsim-cli", flag.ContinueOnError)
	cfg := &CLI{}

	fs.StringVar(&cfg.Target, "target", "server", "dispatch target: server or ui")
	fs.StringVar(&cfg.URL, "url", "", "WebSocket URL to dial (defaults to ws://127.0.0.1:8080/ws for server, ws://127.0.0.1:7070/ws for ui)")
	fs.StringVar(&cfg.Command, "command", "", "command name registered on the target")
	fs.StringVar(&cfg.Args, "args", "{}", "JSON object of command arguments")
	timeoutMs := fs.Int("timeout-ms", 5000, "response timeout in milliseconds")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	if cfg.URL == "" {
		switch cfg.Target {
		case "ui":
			cfg.URL = "ws://127.0.0.1:7070/ws"
		default:
			cfg.URL = "ws://127.0.0.1:8080/ws"
		}
	}
	return cfg, nil
}
