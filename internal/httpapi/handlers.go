package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-telephony/internal/audit"
	"voice-telephony/internal/auth"
	"voice-telephony/internal/calls"
	"voice-telephony/internal/session"
	"voice-telephony/internal/tools"
	"voice-telephony/internal/transcript"
	"voice-telephony/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
//
// Tool-backed endpoints answer with the tool Result: 200 (201 for a new call)
// when its status is "ok", 422 otherwise.
type Handlers struct {
	Auth         *auth.Manager
	Calls        *calls.Registry
	Tools        *tools.TelephonyTools
	Appointments *tools.AppointmentTools
	Sessions     *session.Tracker

	// Audit records operator actions; AuditLog serves them back to admins.
	Audit    *audit.Service
	AuditLog AuditLister
}

// AuditLister returns recent audit events, newest first. audit.MemoryRepo implements it.
type AuditLister interface {
	Recent(n int) []audit.Event
}

func actor(c *gin.Context) audit.Actor {
	id, _ := auth.FromContext(c.Request.Context())
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func toolJSON(c *gin.Context, okStatus int, res tools.Result) {
	if res.Status != tools.StatusOK {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(okStatus, res)
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a new pair with the same identity.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		logger.FromGin(c).Warn("refresh token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller's identity.
func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.FromContext(c.Request.Context())
	c.JSON(http.StatusOK, id)
}

// --- Calls ---

func (h Handlers) telephony(c *gin.Context) bool {
	if h.Tools == nil || h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony not configured"})
		return false
	}
	return true
}

// CreateCall places an outbound call.
func (h Handlers) CreateCall(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	var req tools.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}
	res := h.Tools.MakeOutboundCall(c.Request.Context(), req)
	if res.CallID != "" {
		logger.Enrich(c, "call_id", res.CallID)
		h.Audit.Record(c.Request.Context(), actor(c), audit.EventTypeCallPlaced, res.CallID, res.Message, map[string]any{
			"phone_number": res.PhoneNumber,
			"purpose":      req.Purpose,
			"status":       res.Status,
		})
	}
	toolJSON(c, http.StatusCreated, res)
}

func (h Handlers) ListCalls(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	c.JSON(http.StatusOK, h.Tools.ListActiveCalls(c.Request.Context()))
}

// GetCall returns the full record of an active call, transcript included.
func (h Handlers) GetCall(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	call, ok := h.Calls.Get(c.Param("call_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) EndCall(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	res := h.Tools.EndCall(c.Request.Context(), c.Param("call_id"))
	if res.Status != tools.StatusOK {
		c.JSON(http.StatusNotFound, res)
		return
	}
	h.Audit.Record(c.Request.Context(), actor(c), audit.EventTypeCallEnded, res.CallID, "call ended via api", nil)
	c.JSON(http.StatusOK, res)
}

type statusRequest struct {
	Status string         `json:"status" binding:"required"`
	Fields map[string]any `json:"fields"`
}

// UpdateCallStatus applies a state transition. Illegal transitions answer 409.
func (h Handlers) UpdateCallStatus(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	status, ok := calls.ParseStatus(req.Status)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	id := c.Param("call_id")
	if _, ok := h.Calls.Get(id); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if !h.Calls.UpdateStatus(c.Request.Context(), id, status, req.Fields) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "transition rejected"})
		return
	}
	h.Audit.Record(c.Request.Context(), actor(c), audit.EventTypeStatusOverride, id, "status set via api", map[string]any{"status": string(status)})
	c.JSON(http.StatusOK, gin.H{"status": "ok", "call_id": id, "call_status": status})
}

type transcriptRequest struct {
	Role      string `json:"role" binding:"required"`
	Text      string `json:"text" binding:"required"`
	Timestamp string `json:"timestamp"`
}

func (h Handlers) AppendTranscript(c *gin.Context) {
	if !h.telephony(c) {
		return
	}
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "role and text required"})
		return
	}
	id := c.Param("call_id")
	entry := calls.TranscriptEntry{Role: strings.ToLower(req.Role), Text: req.Text, Timestamp: req.Timestamp}
	if !h.Calls.AppendTranscript(c.Request.Context(), id, entry) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found or ending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "call_id": id})
}

// --- Tools ---

type validateRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// ValidatePhone always answers 200; the verdict is in is_valid.
func (h Handlers) ValidatePhone(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}
	tt := h.Tools
	if tt == nil {
		tt = &tools.TelephonyTools{}
	}
	c.JSON(http.StatusOK, tt.ValidatePhoneNumber(c.Request.Context(), req.PhoneNumber))
}

type appointmentRequest struct {
	tools.AppointmentRequest
	RoomName string `json:"room_name"`
	// Confirm sends the appointment; otherwise it is only validated and a
	// confirmation question is returned.
	Confirm bool `json:"confirm"`
}

func (h Handlers) Appointment(c *gin.Context) {
	if h.Appointments == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointments not configured"})
		return
	}
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Confirm {
		toolJSON(c, http.StatusOK, h.Appointments.Prepare(req.AppointmentRequest))
		return
	}
	toolJSON(c, http.StatusOK, h.Appointments.Schedule(c.Request.Context(), req.RoomName, req.AppointmentRequest))
}

// --- Sessions ---

func (h Handlers) sessions(c *gin.Context) bool {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return false
	}
	return true
}

func sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_name required"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// StartSession opens a session. A session already opened for the room (for
// example by inbound routing) answers 409 with its current state.
func (h Handlers) StartSession(c *gin.Context) {
	if !h.sessions(c) {
		return
	}
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	info, err := h.Sessions.Start(c.Request.Context(), req)
	if errors.Is(err, session.ErrSessionExists) {
		existing, _ := h.Sessions.Get(strings.TrimSpace(req.RoomName))
		c.JSON(http.StatusConflict, existing)
		return
	}
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

type itemRequest struct {
	Role                string    `json:"role"`
	SenderIdentity      string    `json:"sender_identity"`
	ParticipantIdentity string    `json:"participant_identity"`
	Text                string    `json:"text"`
	Content             []string  `json:"content"`
	CreatedAt           time.Time `json:"created_at"`
}

func (h Handlers) AddSessionItem(c *gin.Context) {
	if !h.sessions(c) {
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Sessions.AddItem(c.Request.Context(), c.Param("room"), transcript.Message{
		Role:                req.Role,
		SenderIdentity:      req.SenderIdentity,
		ParticipantIdentity: req.ParticipantIdentity,
		Text:                req.Text,
		Content:             req.Content,
		CreatedAt:           req.CreatedAt,
	})
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) RecordSessionMetrics(c *gin.Context) {
	if !h.sessions(c) {
		return
	}
	var sample map[string]any
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Sessions.RecordMetrics(c.Param("room"), sample); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// EndSession closes a session and returns the report outcome.
func (h Handlers) EndSession(c *gin.Context) {
	if !h.sessions(c) {
		return
	}
	var req session.EndRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	out, err := h.Sessions.End(c.Request.Context(), c.Param("room"), req)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Admin ---

// ListAudit returns recent operator actions; ?limit=N caps the count (default 100).
func (h Handlers) ListAudit(c *gin.Context) {
	if h.AuditLog == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "audit log not available"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": h.AuditLog.Recent(limit)})
}
