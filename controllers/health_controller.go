package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/melodia/backend/sweeper"
	"github.com/melodia/backend/utils"
)

// HealthController reports process health: database reachability and the temp sweeper.
type HealthController struct {
	db      *gorm.DB
	sweeper *sweeper.Sweeper
}

// NewHealthController creates a new HealthController. Both collaborators are optional.
func NewHealthController(db *gorm.DB, sw *sweeper.Sweeper) *HealthController {
	return &HealthController{db: db, sweeper: sw}
}

// GetHealth answers 200 while the process serves traffic. A down database or a failing
// sweep is reported in the body without failing the probe.
func (h *HealthController) GetHealth(ctx *gin.Context) {
	utils.Success(ctx, gin.H{
		"status":   "ok",
		"database": h.databaseStatus(ctx.Request.Context()),
		"sweeper":  h.sweeperStatus(),
	})
}

func (h *HealthController) databaseStatus(parent context.Context) string {
	if h.db == nil {
		return "disabled"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return "down"
	}
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return "down"
	}
	return "up"
}

func (h *HealthController) sweeperStatus() gin.H {
	if h.sweeper == nil {
		return gin.H{"enabled": false}
	}
	status := gin.H{"enabled": true, "dir": h.sweeper.Dir()}
	last, ok := h.sweeper.Last()
	if !ok {
		return status
	}
	lastPass := gin.H{
		"result":      last.Result(),
		"started_at":  last.StartedAt,
		"duration_ms": last.Duration.Milliseconds(),
		"listed":      last.Listed,
		"removed":     last.Removed,
		"kept":        last.Kept,
		"failed":      len(last.Failed),
		"deferred":    last.Deferred,
	}
	if last.ListErr != nil {
		lastPass["error"] = last.ListErr.Error()
	}
	status["last_pass"] = lastPass
	return status
}

// NotFound answers unknown routes with the JSON envelope.
func NotFound(ctx *gin.Context) {
	utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
}
