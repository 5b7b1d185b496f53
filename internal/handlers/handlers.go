// Package handlers exposes the sync trigger endpoints. Handlers stay thin:
// they run one pass and return the structured summary.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zackbabin/dub-analysis-tool-sub008/internal/syncer"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
)

// SyncRunner is the orchestrator surface the HTTP layer consumes.
type SyncRunner interface {
	SyncEngagement(ctx context.Context) (syncer.Summary, error)
	SyncFunnels(ctx context.Context) (syncer.Summary, error)
	SyncTickets(ctx context.Context) (syncer.Summary, error)
}

// Handlers holds the HTTP handlers for the sync service
type Handlers struct {
	runner SyncRunner
	logger logging.Logger
}

// New creates the handler set
func New(runner SyncRunner, logger logging.Logger) *Handlers {
	return &Handlers{runner: runner, logger: logger}
}

// RegisterRoutes attaches the sync endpoints to the router
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	sync := router.Group("/sync")
	sync.POST("/engagement", h.SyncEngagement)
	sync.POST("/funnels", h.SyncFunnels)
	sync.POST("/tickets", h.SyncTickets)
}

// SyncEngagement triggers one engagement pass
func (h *Handlers) SyncEngagement(c *gin.Context) {
	summary, err := h.runner.SyncEngagement(c.Request.Context())
	h.respond(c, summary, err)
}

// SyncFunnels triggers one funnel pass
func (h *Handlers) SyncFunnels(c *gin.Context) {
	summary, err := h.runner.SyncFunnels(c.Request.Context())
	h.respond(c, summary, err)
}

// SyncTickets triggers one ticket pass
func (h *Handlers) SyncTickets(c *gin.Context) {
	summary, err := h.runner.SyncTickets(c.Request.Context())
	h.respond(c, summary, err)
}

// respond maps a pass outcome onto a status code. A rate-limited pass is a
// degraded success; the caller keeps the previous snapshot.
func (h *Handlers) respond(c *gin.Context, summary syncer.Summary, err error) {
	if err != nil {
		h.logger.WithError(err).WithField("kind", summary.Kind).Error("Sync pass failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   summary.Detail,
			"summary": summary,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
