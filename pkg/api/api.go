// Package api exposes the benchmark pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/formula"
	"github.com/mosaico-wp2/agentbench/pkg/orchestrator"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Handler returns the router without starting a listener.
	Handler() http.Handler
}

// Deps are the pipeline components the API fronts. The caller owns their
// lifecycle.
type Deps struct {
	Store        store.Store
	Runs         runmanager.Manager
	Orchestrator orchestrator.Orchestrator
	Catalog      catalog.Catalog
	Engine       formula.Engine
	Schedules    scheduler.Service
	Alerts       alert.Service
	Evaluator    alert.Evaluator
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	deps       Deps
	httpServer *http.Server
	router     http.Handler
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	deps Deps,
) Server {
	s := &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		deps: deps,
		done: make(chan struct{}),
	}

	s.router = s.buildRouter()

	return s
}

func (s *server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
