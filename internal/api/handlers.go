package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rm01-bsp/bootseq"
)

// bootService is the subset of *bootseq.Agent used by the HTTP handlers.
// Declaring it as an interface allows test doubles to be injected.
type bootService interface {
	Start(ctx context.Context, progress func(bootseq.Progress)) (<-chan bootseq.Result, error)
	IsRunning() bool
	State() bootseq.RunState
	LastReport() *bootseq.Report
	Signals() map[string]bool
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	boot   bootService
	logger *slog.Logger
}

// Boot handles POST /api/v1/boot.
// It returns 202 once a new boot run has been reserved, or 409 if one is
// already in progress. The run itself happens in a background goroutine.
func (h *Handler) Boot(c *gin.Context) {
	done, err := h.boot.Start(context.Background(), nil) //nolint:contextcheck
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "in-progress"})
		return
	}
	go func() {
		if res := <-done; res.Err != nil {
			h.logger.Warn("boot run ended with error", "err", res.Err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"state":   h.boot.State().String(),
		"running": h.boot.IsRunning(),
	})
}

// Ready handles GET /ready.
// It returns 200 only after a boot run completed; 503 otherwise. Components
// that were not ready by the end of the run are listed as degraded.
func (h *Handler) Ready(c *gin.Context) {
	r := h.boot.LastReport()
	if r == nil || r.Status != bootseq.StatusCompleted {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	degraded := r.TimedOut()
	if degraded == nil {
		degraded = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "degraded": degraded})
}

// Report handles GET /report.
// It returns the report of the most recent run, or 404 before the first run ends.
func (h *Handler) Report(c *gin.Context) {
	r := h.boot.LastReport()
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "no report"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// Signals handles GET /signals.
func (h *Handler) Signals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": h.boot.Signals()})
}
