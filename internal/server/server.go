// Package server exposes the admin control surface over HTTP: mode
// rollback commands and rollback-readiness reporting. It is an
// admin-only surface; authentication is handled by the deployment in
// front of it.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"planstore/internal/monitoring"
	"planstore/internal/utils"
	"planstore/storage/transition"
)

// Server wires the admin HTTP routes.
type Server struct {
	ctrl    *transition.Controller
	monitor *monitoring.Service
	engine  *gin.Engine
}

// rollbackRequest is the POST /api/admin/rollback body.
type rollbackRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// New builds the server and registers its routes.
func New(ctrl *transition.Controller, monitor *monitoring.Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		ctrl:    ctrl,
		monitor: monitor,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())

	admin := s.engine.Group("/api/admin")
	admin.POST("/rollback", s.handleRollback)
	admin.GET("/rollback", s.handleRollbackStatus)
	admin.GET("/storage-status", s.handleStorageStatus)

	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	utils.Infof("admin server listening on %s", addr)
	return s.engine.Run(addr)
}

// handleRollback executes a mode rollback. Two targets are valid:
// "dualwrite" (safe rollback from remote-only) and "localStorage"
// (emergency fallback).
func (s *Server) handleRollback(c *gin.Context) {
	req := rollbackRequest{Mode: "dualwrite", Reason: "Manual rollback"}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode == "" {
		req.Mode = "dualwrite"
	}
	if req.Reason == "" {
		req.Reason = "Manual rollback"
	}

	switch req.Mode {
	case string(transition.ModeDualWrite):
		s.rollbackToDualWrite(c, req.Reason)
	case string(transition.ModeLocalOnly):
		s.emergencyFallback(c, req.Reason)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid rollback mode",
			"validModes": []string{string(transition.ModeDualWrite), string(transition.ModeLocalOnly)},
		})
	}
}

func (s *Server) rollbackToDualWrite(c *gin.Context, reason string) {
	mode, _ := s.ctrl.CurrentMode()
	if mode == transition.ModeDualWrite {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Already in DualWrite mode",
			"mode":    transition.ModeDualWrite,
		})
		return
	}

	utils.Infof("rolling back to dual-write mode, reason: %s", reason)
	result := s.ctrl.RollbackToDualWrite(c.Request.Context())
	if !result.Success {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   result.Message,
			"errors":  result.Errors,
		})
		return
	}

	newMode, details := s.ctrl.CurrentMode()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
		"postRollbackMetrics": gin.H{
			"mode":      newMode,
			"health":    s.monitor.Summary(),
			"sync":      details,
			"timestamp": time.Now(),
		},
		"reason": reason,
	})
}

func (s *Server) emergencyFallback(c *gin.Context, reason string) {
	utils.Warnf("emergency fallback to local-only mode, reason: %s", reason)
	result := s.ctrl.EmergencyFallbackToLocal(c.Request.Context())
	if !result.Success {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   result.Message,
			"errors":  result.Errors,
		})
		return
	}

	newMode, _ := s.ctrl.CurrentMode()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
		"postFallbackMetrics": gin.H{
			"mode":      newMode,
			"health":    s.monitor.Summary(),
			"timestamp": time.Now(),
		},
		"reason":  reason,
		"warning": "Emergency fallback mode - limited functionality",
	})
}

// handleRollbackStatus reports rollback readiness: current mode, health
// and which rollback targets are available or recommended.
func (s *Server) handleRollbackStatus(c *gin.Context) {
	mode, details := s.ctrl.CurrentMode()
	health := s.monitor.Summary()

	rollbacks := []gin.H{}
	switch mode {
	case transition.ModeRemoteOnly:
		rollbacks = append(rollbacks,
			gin.H{
				"target":      transition.ModeDualWrite,
				"recommended": true,
				"reason":      "Safe rollback to dual-write mode",
			},
			gin.H{
				"target":      transition.ModeLocalOnly,
				"recommended": false,
				"reason":      "Emergency fallback - use only if the remote store is unavailable",
			},
		)
	case transition.ModeDualWrite:
		rollbacks = append(rollbacks, gin.H{
			"target":      transition.ModeLocalOnly,
			"recommended": health.Status == monitoring.StatusCritical,
			"reason":      "Fallback to local storage if sync issues persist",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"currentMode": mode,
		"modeDetails": details,
		"health": gin.H{
			"status": health.Status,
			"score":  health.Score,
			"issues": health.Issues,
		},
		"availableRollbacks": rollbacks,
		"recommendations":    s.monitor.Recommendations(health),
	})
}

// handleStorageStatus is a lighter probe than the readiness report.
func (s *Server) handleStorageStatus(c *gin.Context) {
	mode, details := s.ctrl.CurrentMode()
	c.JSON(http.StatusOK, gin.H{
		"mode":      mode,
		"details":   details,
		"health":    s.monitor.Summary(),
		"timestamp": time.Now(),
	})
}
