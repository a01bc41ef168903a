package httpapi

import (
	"callflow/internal/auth"

	"github.com/gin-gonic/gin"
)

// Register mounts the session and reconcile API under /v1, behind service tokens.
func Register(r gin.IRouter, h Handlers, m *auth.Manager) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.Use(auth.RequireServiceToken(m, auth.ScopeSessions))
		sessions.POST("", h.StartSession)
		sessions.POST("/:id/events", h.AppendEvents)
		sessions.POST("/:id/lead", h.SetLead)
		sessions.POST("/:id/playout", h.SetPlayout)
		sessions.POST("/:id/end", h.EndSession)
	}
	{
		rec := v1.Group("/reconcile")
		rec.Use(auth.RequireServiceToken(m, auth.ScopeReconcile))
		rec.POST("", h.Reconcile)
	}
}
