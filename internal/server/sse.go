package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const presencePingInterval = 10 * time.Second

type streamEventPayload struct {
	Type      string         `json:"type"`
	Kind      string         `json:"kind"`
	Poll      *foodpoll.Poll `json:"poll,omitempty"`
	Vote      *foodpoll.Vote `json:"vote,omitempty"`
	CommitSeq int64          `json:"commit_seq"`
}

// handlePollEvents streams the poll's ordered event sequence over SSE:
// snapshot first, then live deltas. The open stream doubles as the presence
// heartbeat; when it ends the viewer goes offline. A stream closed by the
// store signals a forced re-sync and the client reconnects for a fresh
// snapshot.
func (h *httpHandler) handlePollEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	pollID, err := foodpoll.NewPollID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_poll_id"})
		return
	}
	if _, err := h.sessions.Open(c.Request.Context(), pollID); err != nil {
		h.renderError(c, "open poll stream", err)
		return
	}

	subscription, err := h.gateway.Subscribe(c.Request.Context(), pollID)
	if err != nil {
		h.renderError(c, "subscribe poll stream", err)
		return
	}
	defer subscription.Cancel()

	h.presence.Heartbeat(userID)
	defer h.presence.Disconnect(userID)

	ticker := time.NewTicker(presencePingInterval)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.logger.Debug("poll stream opened",
		zap.String("poll_id", pollID.String()), zap.String("user_id", userID))

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case <-ticker.C:
			h.presence.Heartbeat(userID)
			c.SSEvent("ping", "keepalive")
			return true
		case event, ok := <-subscription.Events():
			if !ok {
				return false
			}
			c.SSEvent("sync", streamEventPayload{
				Type:      string(event.Type),
				Kind:      string(event.Kind),
				Poll:      event.Poll,
				Vote:      event.Vote,
				CommitSeq: event.CommitSeq,
			})
			return true
		}
	})
}
