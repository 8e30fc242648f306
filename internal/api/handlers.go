package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/events"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"equity":    s.trader.GetPortfolioEquity(),
		"positions": len(s.trader.GetAllPositions()),
	}
	if s.breaker != nil {
		state, reason := s.breaker.State()
		status["breaker"] = string(state)
		if reason != "" {
			status["breaker_reason"] = reason
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.trader.GetAllPositions()})
}

func (s *Server) handleEquity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"equity":  s.trader.GetPortfolioEquity(),
		"history": s.trader.GetEquityHistory(),
	})
}

func (s *Server) handleCorrelation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"matrix": s.trader.GetCorrelationMatrix()})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.trader.GetPortfolioRiskAnalysis())
}

func (s *Server) handleEvents(c *gin.Context) {
	recent := []events.Event{}
	if s.eventLog != nil {
		recent = s.eventLog.Recent()
	}
	c.JSON(http.StatusOK, gin.H{"events": recent})
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	mode := engine.Mode(req.Mode)
	switch mode {
	case engine.ModeNormal, engine.ModeRiskReduction, engine.ModeEmergency:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode"})
		return
	}

	s.trader.SetSystemMode(c.Request.Context(), mode)
	s.logger.Info().Str("mode", req.Mode).Msg("Mode changed via API")
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "circuit breaker disabled"})
		return
	}
	s.breaker.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
