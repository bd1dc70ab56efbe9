package progress

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"leadscore-backend/internal/shared/server/middleware"
	"leadscore-backend/internal/shared/server/respond"
)

const heartbeatInterval = 15 * time.Second

// Handler exposes progress polling and SSE streaming endpoints.
type Handler struct {
	Hub     *Hub
	limiter *pollLimiter
}

// NewHandler constructs a Handler with the default poll rate limit.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		Hub:     hub,
		limiter: newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches progress routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/runs/:id/progress", h.pollProgress)
	rg.GET("/runs/:id/progress/stream", h.streamRun)
	rg.GET("/progress/stream", h.streamAccount)
	rg.POST("/runs/:id/cancel", h.cancelRun)
}

func (h *Handler) lookup(c *gin.Context) (*Actor, State, bool) {
	runID := c.Param("id")
	actor, err := h.Hub.Get(runID)
	if err != nil {
		respond.Error(c, http.StatusNotFound, "not_found", "run progress not found", nil)
		return nil, State{}, false
	}
	state, err := actor.Get()
	if err != nil {
		respond.Error(c, http.StatusNotFound, "not_found", "run progress not found", nil)
		return nil, State{}, false
	}
	if state.AccountID != middleware.AccountIDFromContext(c) {
		respond.Error(c, http.StatusNotFound, "not_found", "run progress not found", nil)
		return nil, State{}, false
	}
	return actor, state, true
}

func (h *Handler) pollProgress(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)
	runID := c.Param("id")
	if allowed, retryAfter := h.limiter.Allow(accountID, runID); !allowed {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "poll interval too short", nil)
		return
	}

	_, state, ok := h.lookup(c)
	if !ok {
		return
	}
	respond.JSON(c, http.StatusOK, state)
}

func (h *Handler) cancelRun(c *gin.Context) {
	actor, _, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := actor.Cancel(); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyComplete):
			respond.Error(c, http.StatusConflict, "already_complete", "run already finished", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to cancel run", nil)
		}
		return
	}
	state, err := actor.Get()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to cancel run", nil)
		return
	}
	respond.JSON(c, http.StatusOK, state)
}

func (h *Handler) streamRun(c *gin.Context) {
	actor, _, ok := h.lookup(c)
	if !ok {
		return
	}
	events, unsubscribe, err := actor.Subscribe()
	if err != nil {
		respond.Error(c, http.StatusNotFound, "not_found", "run progress not found", nil)
		return
	}
	defer unsubscribe()

	sseHeaders(c)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			c.SSEvent(evt.Kind, evt.State)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) streamAccount(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)
	events, unsubscribe := h.Hub.SubscribeAccount(accountID)
	defer unsubscribe()

	sseHeaders(c)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent("ready", gin.H{"accountId": accountID})
	c.Writer.Flush()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			c.SSEvent(evt.Kind, evt)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}
