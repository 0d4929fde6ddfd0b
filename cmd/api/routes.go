package main

import (
	"net/http"

	"voice-telephony/internal/httpapi"
	"voice-telephony/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, wh telephony.WebhookHandler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public), answered with 202 and processed in the background.
	// NOTE: Twilio signature validation is expected at the edge.
	webhooks := r.Group("/webhook")
	{
		webhooks.POST("/twilio/inbound", wh.TwilioInbound)
		webhooks.POST("/generic/inbound", wh.GenericInbound)
		webhooks.POST("/call/completion", wh.CallCompletion)
	}

	// Token refresh is authenticated by the refresh token itself.
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		h.Mount(v1)
	}
}
