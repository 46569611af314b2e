// Command dirtsim-ui runs the UI process: it drives the
// local LVGL-equivalent widget tree and a CLI-facing WebSocket listener
// of its own, forwarding authoritative mutations to a dirtsim-server
// process over the outbound half of internal/transport.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aortez/dirtsim/internal/config"
	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/lifecycle"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/transport"
	"github.com/aortez/dirtsim/internal/uifsm"
	"github.com/aortez/dirtsim/internal/videosignal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-ui:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseUI(os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.Default("ui")
	shutdown := lifecycle.New(logger, 5*time.Second)

	reg := registry.New(registry.UI)
	queue := dispatch.NewQueue()
	auth := transport.NewAuth()
	video := videosignal.NewManager(nil)
	txServer := transport.NewServer(logger, reg, queue, auth)

	deps := uifsm.Deps{
		Registry:        reg,
		TransportServer: txServer,
		Video:           video,
		Auth:            auth,
		Logger:          logger,
		TickInterval:    cfg.TickInterval,
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdown.Register(func(context.Context) error { cancel(); return nil })

	machine := uifsm.New(queue, deps)

	serverClient, err := transport.Dial(ctx, cfg.ServerURL, transport.Binary, logger)
	if err != nil {
		logger.Warn("could not reach server, starting disconnected", logging.Err(err))
	} else {
		serverClient.OnBroadcast(func(name string, fields json.RawMessage) {
			machine.OnBroadcast(name, broadcastCandidateIDs(fields))
		})
		deps.ServerClient = serverClient
		machine.SetServerClient(serverClient)
		machine.OnConnected()
		shutdown.Register(func(context.Context) error { return serverClient.Close() })
	}

	go machine.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", txServer.ServeHTTP)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}
	shutdown.Register(func(ctx context.Context) error { return httpServer.Shutdown(ctx) })

	go func() {
		logger.Info("listening", logging.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", logging.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		machine.Wait()
		close(done)
	}()

	select {
	case <-sigCh:
		logger.Info("signal received, shutting down")
	case <-done:
		logger.Info("state machine reached Shutdown")
	}

	return shutdown.Shutdown(context.Background())
}

// broadcastCandidateIDs extracts the evolved-candidate IDs out of a
// TrainingResultAvailable broadcast's raw fields, the only part of the
// payload the UI's state transition needs to carry forward.
func broadcastCandidateIDs(fields json.RawMessage) []string {
	var payload struct {
		Candidates []struct {
			ID string `json:"ID"`
		} `json:"Candidates"`
	}
	if err := json.Unmarshal(fields, &payload); err != nil {
		return nil
	}
	ids := make([]string, 0, len(payload.Candidates))
	for _, c := range payload.Candidates {
		ids = append(ids, c.ID)
	}
	return ids
}
