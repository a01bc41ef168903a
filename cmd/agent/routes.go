package main

import (
	"net/http"

	"callflow/internal/auth"
	"callflow/internal/httpapi"
	"callflow/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *auth.Manager, webhook telephony.WebhookHandler, metrics http.Handler) {
	// public
	r.GET("/metrics", gin.WrapH(metrics))

	// Platform webhooks are signed with the API secret; no service token.
	r.POST("/webhooks/livekit", webhook.Handle)

	httpapi.Register(r, h, m)
}
