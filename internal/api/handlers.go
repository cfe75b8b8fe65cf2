package api

import (
	"net/http"
	"strconv"
	"time"

	"upbit-autopilot/internal/autopilot"
	"upbit-autopilot/internal/guided"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.orchestrator.Running(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Snapshot())
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.orchestrator.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) handleStop(c *gin.Context) {
	s.orchestrator.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Options())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var opts autopilot.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config payload: " + err.Error()})
		return
	}
	applied := s.orchestrator.UpdateConfig(opts)
	c.JSON(http.StatusOK, applied)
}

type pauseRequest struct {
	Market     string `json:"market" binding:"required"`
	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

func (s *Server) handlePauseMarket(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pause payload: " + err.Error()})
		return
	}
	market := autopilot.NormalizeFocusedMarket(req.Market)
	if market == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market"})
		return
	}
	if req.DurationMs <= 0 {
		req.DurationMs = 300_000
	}
	if req.Reason == "" {
		req.Reason = "manual pause"
	}
	s.orchestrator.PauseMarket(market, time.Duration(req.DurationMs)*time.Millisecond, req.Reason)
	c.JSON(http.StatusOK, gin.H{"market": market, "paused_ms": req.DurationMs})
}

type adoptRequest struct {
	Market string `json:"market" binding:"required"`
	Notes  string `json:"notes"`
}

// handleAdoptPosition registers an externally opened position with the
// backend; the next orchestrator tick spawns a managing worker for it.
func (s *Server) handleAdoptPosition(c *gin.Context) {
	var req adoptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid adopt payload: " + err.Error()})
		return
	}
	market := autopilot.NormalizeFocusedMarket(req.Market)
	if market == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market"})
		return
	}

	opts := s.orchestrator.Options()
	err := s.guided.AdoptPosition(c.Request.Context(), guided.AdoptRequest{
		Market:      market,
		Mode:        string(opts.TradingMode),
		Interval:    opts.Interval,
		EntrySource: "autopilot-adopt",
		Notes:       req.Notes,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "adopted": true})
}

func (s *Server) handleDecisions(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision history disabled"})
		return
	}

	market := autopilot.NormalizeMarket(c.Query("market"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := s.repo.RecentDecisions(c.Request.Context(), market, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows, "count": len(rows)})
}

func (s *Server) handleScreenshot(c *gin.Context) {
	shot, ok := s.orchestrator.Screenshots().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "screenshot not found"})
		return
	}
	c.JSON(http.StatusOK, shot)
}
