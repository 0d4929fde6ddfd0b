package httpapi

import (
	"github.com/gin-gonic/gin"

	"voice-telephony/internal/rbac"
)

// Mount registers the authenticated API on v1. The caller has already
// installed the access-token middleware on the group.
func (h Handlers) Mount(v1 *gin.RouterGroup) {
	v1.GET("/me", h.Me)

	callsGroup := v1.Group("/calls")
	{
		callsGroup.POST("", rbac.Require(rbac.PermCalls), h.CreateCall)
		callsGroup.GET("", rbac.Require(rbac.PermCalls), h.ListCalls)
		callsGroup.GET("/:call_id", rbac.Require(rbac.PermCalls), h.GetCall)
		callsGroup.POST("/:call_id/end", rbac.Require(rbac.PermCalls), h.EndCall)
		callsGroup.POST("/:call_id/transcript", rbac.Require(rbac.PermCalls), h.AppendTranscript)
		callsGroup.POST("/:call_id/status", rbac.Require(rbac.PermStatusOverride), h.UpdateCallStatus)
	}

	toolsGroup := v1.Group("", rbac.Require(rbac.PermTools))
	{
		toolsGroup.POST("/phone/validate", h.ValidatePhone)
		toolsGroup.POST("/appointments", h.Appointment)
	}

	sessions := v1.Group("/sessions", rbac.Require(rbac.PermSessions))
	{
		sessions.POST("", h.StartSession)
		sessions.POST("/:room/items", h.AddSessionItem)
		sessions.POST("/:room/metrics", h.RecordSessionMetrics)
		sessions.POST("/:room/end", h.EndSession)
	}

	v1.GET("/admin/audit", rbac.Require(rbac.PermAudit), h.ListAudit)
}
