package handlers

import (
	"io"
	"net/http"

	"haggle/middleware"
	"haggle/services/negotiation"
	"haggle/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Stream handles GET /api/negotiations/:id/stream. It runs a session
// synchronizer for the lifetime of the request and pushes every reconciled
// snapshot to the client as a server-sent event. The subscription is torn
// down when the client disconnects.
func (h *NegotiationHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")
	actor := middleware.ParticipantID(c)

	// Participancy check up front; the synchronizer itself is read-only.
	if _, err := h.Svc.Get(c.Request.Context(), actor, sessionID); err != nil {
		h.renderError(c, err)
		return
	}

	sync := negotiation.NewSynchronizer(h.Repo, sessionID, h.Logger)
	go func() {
		if err := sync.Run(c.Request.Context()); err != nil && c.Request.Context().Err() == nil {
			h.Logger.Warn("session synchronizer stopped",
				zap.String("sessionId", sessionID), zap.Error(err))
		}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		snap, ok := <-sync.Updates()
		if !ok {
			return false
		}
		c.SSEvent("snapshot", snap)
		return true
	})
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, utils.GetHealthStatus())
}
