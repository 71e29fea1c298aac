// Package opsapi serves the local operations endpoints: health, Prometheus
// metrics and a JSON snapshot of the engine state.
package opsapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trend-trader/internal/logger"
)

// StateFunc returns a JSON-encodable snapshot of the running engine.
type StateFunc func() any

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	addr  string
	state StateFunc
	db    Pinger
	runID string
	start time.Time
	srv   *http.Server
}

// New builds the server. db may be nil.
func New(addr, runID string, state StateFunc, db Pinger) *Server {
	s := &Server{addr: addr, state: state, db: db, runID: runID, start: time.Now()}
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler is the gin router, exposed for tests.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/state", func(c *gin.Context) {
		if s.state == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
			return
		}
		c.JSON(http.StatusOK, s.state())
	})
	return r
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"run_id": s.runID,
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Ops server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
