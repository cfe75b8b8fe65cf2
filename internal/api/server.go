// Package api exposes the orchestrator over HTTP (gin) and pushes state
// snapshots to connected clients over a websocket hub.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"upbit-autopilot/config"
	"upbit-autopilot/internal/autopilot"
	"upbit-autopilot/internal/database"
	"upbit-autopilot/internal/guided"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server hosts the control API.
type Server struct {
	cfg          config.ServerConfig
	orchestrator *autopilot.Orchestrator
	guided       guided.API
	repo         *database.Repository // nil when local history is disabled
	hub          *WSHub
	logger       zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the routes. Call Start to listen and Broadcast to feed
// the websocket hub.
func NewServer(cfg config.ServerConfig, orchestrator *autopilot.Orchestrator, guidedAPI guided.API, repo *database.Repository, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		guided:       guidedAPI,
		repo:         repo,
		hub:          NewWSHub(logger),
		logger:       logger,
	}
	return s
}

// Hub returns the websocket hub for state broadcasting.
func (s *Server) Hub() *WSHub { return s.hub }

func (s *Server) buildRouter() *gin.Engine {
	if s.cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if s.cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	apiGroup := router.Group("/api/autopilot")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.POST("/start", s.handleStart)
		apiGroup.POST("/stop", s.handleStop)
		apiGroup.GET("/config", s.handleGetConfig)
		apiGroup.PUT("/config", s.handleUpdateConfig)
		apiGroup.POST("/pause", s.handlePauseMarket)
		apiGroup.POST("/adopt", s.handleAdoptPosition)
		apiGroup.GET("/decisions", s.handleDecisions)
		apiGroup.GET("/screenshots/:id", s.handleScreenshot)
	}
	return router
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// Broadcast pushes a state snapshot to all websocket clients.
func (s *Server) Broadcast(state autopilot.State) {
	s.hub.BroadcastState(state)
}
