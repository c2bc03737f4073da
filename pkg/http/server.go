package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/metrics"
	"livecoach-server/pkg/session"
)

// Server hosts the media ingest socket, the live-view socket, and the
// operational endpoints
type Server struct {
	logger     *logrus.Logger
	httpServer *http.Server
	hub        *LiveHub
	sessions   *session.Store
	startedAt  time.Time
}

// ServerConfig holds HTTP server options
type ServerConfig struct {
	Port          int
	EnableMetrics bool
}

// NewServer builds the server and its routes
func NewServer(logger *logrus.Logger, config ServerConfig, controller CallController,
	hub *LiveHub, sessions *session.Store) *Server {
	s := &Server{
		logger:    logger,
		hub:       hub,
		sessions:  sessions,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/media", NewMediaHandler(logger, controller))
	mux.Handle("/ws/live", hub)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	if config.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		// websocket connections outlive any write timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start runs the server until Shutdown; blocks
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"uptime_s":     int(time.Since(s.startedAt).Seconds()),
		"active_calls": s.sessions.Count(),
	})
}
