package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callflow/internal/auth"
	"callflow/internal/calls"
	"callflow/internal/hangup"
	"callflow/internal/orchestrator"
	"callflow/internal/reconcile"
	"callflow/internal/transcript"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls *orchestrator.Orchestrator
	Sweep *reconcile.Scanner
}

func (h Handlers) Healthz(c *gin.Context) {
	live := 0
	if h.Calls != nil {
		live = h.Calls.Registry().Len()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "live_sessions": live})
}

// --- Sessions ---

func (h Handlers) StartSession(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	var req orchestrator.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Calls.StartCall(c.Request.Context(), req)
	if errors.Is(err, calls.ErrDuplicateSession) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already exists"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("start session failed", "room", req.RoomName, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "start session failed"})
		return
	}
	logger.FromGin(c).Info("session started", "session_id", s.ID, "room", s.RoomName, "caller_service", callerService(c))
	c.JSON(http.StatusCreated, gin.H{
		"session_id": s.ID,
		"room_name":  s.RoomName,
		"egress_id":  s.EgressID(),
	})
}

type eventRequest struct {
	ItemID    string    `json:"item_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Raw       string    `json:"raw"`
}

type appendEventsRequest struct {
	Events []eventRequest `json:"events" binding:"required"`
}

func (h Handlers) AppendEvents(c *gin.Context) {
	var req appendEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	events := make([]transcript.Event, 0, len(req.Events))
	for _, e := range req.Events {
		ev := transcript.Event{
			ItemID:    e.ItemID,
			Content:   e.Content,
			Timestamp: e.Timestamp,
			Source:    e.Source,
			Raw:       e.Raw,
		}
		if e.Role != "" {
			ev.Role = transcript.ParseRole(e.Role)
		}
		events = append(events, ev)
	}

	stored, err := h.Calls.AppendEvents(c.Param("id"), events)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	ids := make([]string, 0, len(stored))
	for _, e := range stored {
		ids = append(ids, e.ItemID)
	}
	c.JSON(http.StatusAccepted, gin.H{"appended": len(stored), "item_ids": ids})
}

type leadRequest struct {
	Lead map[string]any `json:"lead" binding:"required"`
}

func (h Handlers) SetLead(c *gin.Context) {
	var req leadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead object required"})
		return
	}
	if err := h.Calls.SetLead(c.Param("id"), req.Lead); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type playoutRequest struct {
	Speaking *bool `json:"speaking" binding:"required"`
}

func (h Handlers) SetPlayout(c *gin.Context) {
	var req playoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "speaking required"})
		return
	}
	if err := h.Calls.SetPlayout(c.Param("id"), *req.Speaking); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type endRequest struct {
	Reason string `json:"reason"`
}

// EndSession is the agent's end-of-conversation tool call.
func (h Handlers) EndSession(c *gin.Context) {
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "agent_request"
	}

	outcome, err := h.Calls.EndConversation(c.Request.Context(), c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, hangup.ErrAlreadyTerminated):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already ending", "outcome": outcome})
	case err != nil:
		writeSessionError(c, err)
	default:
		logger.FromGin(c).Info("session ended on request",
			"session_id", c.Param("id"),
			"reason", req.Reason,
			"outcome", string(outcome),
			"caller_service", callerService(c),
		)
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	}
}

// callerService is empty for routes mounted without a service token.
func callerService(c *gin.Context) string {
	svc, err := auth.Service(c.Request.Context())
	if err != nil {
		return ""
	}
	return svc
}

func writeSessionError(c *gin.Context, err error) {
	if errors.Is(err, calls.ErrSessionNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	logger.FromGin(c).Error("session request failed", "session_id", c.Param("id"), "err", err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// --- Reconcile ---

// Reconcile runs the directory sweep on demand.
func (h Handlers) Reconcile(c *gin.Context) {
	if h.Sweep == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile not configured"})
		return
	}
	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))

	run := h.Sweep.Run
	if dryRun {
		run = h.Sweep.RunDry
	}
	stats, err := run(c.Request.Context())
	switch {
	case errors.Is(err, reconcile.ErrScanInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "reconcile already running"})
	case err != nil:
		logger.FromGin(c).Error("on-demand reconcile failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed", "stats": stats})
	default:
		c.JSON(http.StatusOK, stats)
	}
}
