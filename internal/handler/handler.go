// Package handler provides the non-proxy HTTP endpoints: health, reload and
// model listing.
package handler

import (
	"context"
	"time"

	"github.com/jleechanorg/codex-plus/internal/commands"
	app_errors "github.com/jleechanorg/codex-plus/internal/errors"
	"github.com/jleechanorg/codex-plus/internal/hooks"
	"github.com/jleechanorg/codex-plus/internal/response"
	"github.com/jleechanorg/codex-plus/internal/types"
	"github.com/jleechanorg/codex-plus/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server bundles the handlers' dependencies.
type Server struct {
	configManager   types.ConfigManager
	commandRegistry *commands.Registry
	hookPipeline    *hooks.Pipeline
	startTime       time.Time
}

// NewServer creates the handler set.
func NewServer(configManager types.ConfigManager, commandRegistry *commands.Registry, hookPipeline *hooks.Pipeline) *Server {
	return &Server{
		configManager:   configManager,
		commandRegistry: commandRegistry,
		hookPipeline:    hookPipeline,
		startTime:       time.Now(),
	}
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "healthy",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// Reload re-reads configuration, the command catalog and the hook document,
// then runs the lifecycle hook phase. Failures keep the previous snapshots.
func (s *Server) Reload(c *gin.Context) {
	if err := s.configManager.ReloadConfig(); err != nil {
		response.Error(c, app_errors.NewValidationError("config reload failed: "+err.Error()))
		return
	}
	if err := s.commandRegistry.Reload(); err != nil {
		response.Error(c, app_errors.NewValidationError("command catalog reload failed: "+err.Error()))
		return
	}
	if err := s.hookPipeline.Reload(); err != nil {
		response.Error(c, app_errors.NewValidationError("hook definitions reload failed: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if _, err := s.hookPipeline.Run(ctx, hooks.PhaseLifecycle, "reload", nil); err != nil {
		logrus.WithError(err).Warn("Lifecycle hooks reported an error during reload")
	}

	logrus.Info("Configuration, commands and hooks reloaded")
	response.Success(c, gin.H{
		"commands": s.commandRegistry.Current().Len(),
		"hooks":    s.hookPipeline.Current().Len(),
	})
}

// Models lists the model the proxy currently fronts, for clients that probe
// the models endpoint before use.
func (s *Server) Models(c *gin.Context) {
	model := s.configManager.GetUpstreamConfig().Model
	if model == "" {
		model = "default"
	}
	c.JSON(200, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": model, "object": "model", "owned_by": "proxy"},
		},
	})
}
