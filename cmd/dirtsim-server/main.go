// Command dirtsim-server runs the authoritative Server process: it
// owns the World and the evolutionary trainer behind the Server state
// machine, and serves both halves of the WebSocket transport on one
// HTTP listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aortez/dirtsim/internal/config"
	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/genome"
	"github.com/aortez/dirtsim/internal/lifecycle"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/metrics"
	"github.com/aortez/dirtsim/internal/organism"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/serverfsm"
	"github.com/aortez/dirtsim/internal/trainingresult"
	"github.com/aortez/dirtsim/internal/transport"
	"github.com/aortez/dirtsim/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseServer(os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.Default("server")
	shutdown := lifecycle.New(logger, 5*time.Second)

	results, err := newResultsRepository(cfg)
	if err != nil {
		return fmt.Errorf("results repository: %w", err)
	}
	shutdown.Register(func(context.Context) error { return results.Close() })

	reg := registry.New(registry.Server)
	queue := dispatch.NewQueue()
	auth := transport.NewAuth()
	if cfg.AccessEnabled {
		auth.Set(true, cfg.AccessToken)
	}
	metricsReg := metrics.New()
	txServer := transport.NewServer(logger, reg, queue, auth)

	deps := serverfsm.Deps{
		Genomes:         genome.NewRepository(),
		Results:         results,
		Scenarios:       world.NewRegistry(),
		Brains:          organism.DefaultRegistry(),
		Registry:        reg,
		TransportServer: txServer,
		Auth:            auth,
		Metrics:         metricsReg,
		Logger:          logger,
		TickInterval:    cfg.TickInterval,
	}
	machine := serverfsm.New(queue, deps)

	ctx, cancel := context.WithCancel(context.Background())
	go machine.Run(ctx)
	shutdown.Register(func(context.Context) error { cancel(); return nil })

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

func newResultsRepository(cfg *config.Server) (trainingresult.Repository, error) {
	switch cfg.ResultsBackend {
	case config.BackendSQLite:
		return trainingresult.OpenSQLite(cfg.ResultsDBPath)
	case config.BackendMemory, "":
		return trainingresult.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.ResultsBackend)
	}
}
