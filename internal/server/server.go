// Package server exposes the schedule registry over a small authenticated
// HTTP API: list cron schedules, pause/resume them, and create, list, and
// delete one-shot runs.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"dailytask/internal/registry"
	logx "dailytask/pkg/logx"
)

type Config struct {
	Addr  string
	Token string
}

// Server wraps an http.Server around the registry. Task functions are
// resolved by type name at request time; the map is fixed at construction.
type Server struct {
	cfg   Config
	token string
	reg   *registry.Registry
	tasks map[string]registry.TaskFunc
	log   logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, reg *registry.Registry, tasks map[string]registry.TaskFunc, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8300"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, token: cfg.Token, reg: reg, tasks: tasks, log: log}
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously so startup can fail fast.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.srv = srv
	s.ln = ln

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", logx.Err(err))
		}
	}()

	s.log.Info("api server started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("api server stopped")
}

// Addr reports the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.routes() }
