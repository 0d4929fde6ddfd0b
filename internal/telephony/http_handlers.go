package telephony

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-telephony/internal/calls"
	"voice-telephony/internal/tasks"
	"voice-telephony/pkg/logger"
)

// StatusTarget receives call completion updates.
type StatusTarget interface {
	UpdateStatus(ctx context.Context, callID string, status calls.CallStatus, fields map[string]any) bool
	EndCall(ctx context.Context, callID string) bool
}

// WebhookHandler parses provider webhooks, acknowledges them with 202 and
// processes them in the background.
//
// No business logic here.
type WebhookHandler struct {
	Inbound *InboundService
	Calls   StatusTarget
	Tasks   *tasks.Group
}

func (h WebhookHandler) schedule(c *gin.Context, name string, fn func(ctx context.Context)) bool {
	if h.Tasks == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "background tasks not configured"})
		return false
	}
	if !h.Tasks.Go(name, fn) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry later"})
		return false
	}
	return true
}

func (h WebhookHandler) acceptInbound(c *gin.Context, req InboundCallRequest) {
	log := logger.FromGin(c)
	if h.Inbound == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound routing not configured"})
		return
	}
	ok := h.schedule(c, "inbound_call", func(ctx context.Context) {
		ctx = logger.With(ctx, log)
		res, err := h.Inbound.Handle(ctx, req)
		if err != nil {
			log.Error("inbound call processing failed", "call_id", res.CallID, "phone_number", req.PhoneNumber, "err", err)
			return
		}
		log.Info("inbound call processed", "call_id", res.CallID, "room_name", res.RoomName)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":       "accepted",
		"call_id":      req.CallID,
		"phone_number": req.PhoneNumber,
	})
}

// TwilioInbound handles POST /webhook/twilio/inbound.
func (h WebhookHandler) TwilioInbound(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.From == "" {
		log.Warn("twilio webhook rejected", "reason", "missing From", "call_sid", form.CallSid)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "From is required"})
		return
	}
	h.acceptInbound(c, form.ToInboundCallRequest())
}

// GenericInbound handles POST /webhook/generic/inbound.
func (h WebhookHandler) GenericInbound(c *gin.Context) {
	log := logger.FromGin(c)
	var body GenericInbound
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn("generic webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, err := body.ToInboundCallRequest()
	if err != nil {
		log.Warn("generic webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number is required"})
		return
	}
	h.acceptInbound(c, req)
}

// CallCompletion handles POST /webhook/call/completion.
func (h WebhookHandler) CallCompletion(c *gin.Context) {
	log := logger.FromGin(c)
	var body CompletionPayload
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.CallID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}
	status := calls.CallStatusCompleted
	if body.Status != "" {
		s, ok := calls.ParseStatus(body.Status)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		status = s
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call registry not configured"})
		return
	}

	fields := make(map[string]any, len(body.Metadata)+1)
	for k, v := range body.Metadata {
		fields[k] = v
	}
	if body.RecordingURL != "" {
		fields["recording_url"] = body.RecordingURL
	}

	ok := h.schedule(c, "call_completion", func(ctx context.Context) {
		applied := ApplyCompletion(ctx, h.Calls, body.CallID, status, fields)
		log.Info("call completion processed", "call_id", body.CallID, "status", status, "applied", applied)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "call_id": body.CallID})
}

// ApplyCompletion maps a completion report onto the registry. A "completed"
// report that is not a legal transition from the current state is treated as
// a hang-up.
func ApplyCompletion(ctx context.Context, target StatusTarget, callID string, status calls.CallStatus, fields map[string]any) bool {
	if target.UpdateStatus(ctx, callID, status, fields) {
		return true
	}
	if status == calls.CallStatusCompleted {
		return target.EndCall(ctx, callID)
	}
	return false
}
