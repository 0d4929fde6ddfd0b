package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-telephony/internal/delivery"
	"voice-telephony/internal/report"
)

const AppointmentRequestType = "tool-calling"

// AppointmentPayload is what the appointment webhook receives.
type AppointmentPayload struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	AppointmentDatetime string `json:"appointment_datetime"`
	RequestType         string `json:"requestType"`
}

// AppointmentRequest carries details as the caller said them.
type AppointmentRequest struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	AppointmentDatetime string `json:"appointment_datetime"`
}

// AppointmentTools validates appointment details and posts them to a webhook.
type AppointmentTools struct {
	URL    string
	Sender delivery.Sender
	Log    *slog.Logger

	// ToolLog returns the tool log of the session in room, or nil.
	ToolLog func(room string) *report.ToolLog
}

func (a *AppointmentTools) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

// Prepare validates and normalizes the details and returns a confirmation
// question with the normalized payload.
func (a *AppointmentTools) Prepare(req AppointmentRequest) Result {
	name := strings.TrimSpace(req.Name)
	if len([]rune(name)) < 2 {
		return errorResult("Please provide your full name.")
	}

	email := NormalizeSpokenEmail(req.Email)
	if !ValidEmail(email) {
		return errorResult("I might have misheard your email. Could you say it again clearly?")
	}

	when, ok := ParseAppointmentTime(req.AppointmentDatetime)
	if !ok {
		when, ok = ParseAppointmentTime(NormalizeSpokenTime(req.AppointmentDatetime))
	}
	if !ok {
		return errorResult("I didn't quite catch the date and time. Could you say it again, like '2025-08-29 at 4 pm'?")
	}

	p := &AppointmentPayload{
		Name:                name,
		Email:               email,
		AppointmentDatetime: when.Format(time.RFC3339),
		RequestType:         AppointmentRequestType,
	}
	return Result{
		Status:  StatusOK,
		Message: fmt.Sprintf("Just to confirm, is this correct: %s at %s, and the time is %s?", p.Name, p.Email, FriendlyTime(when)),
		Payload: p,
	}
}

// Confirm sends a prepared payload with the retry policy.
func (a *AppointmentTools) Confirm(ctx context.Context, room string, p AppointmentPayload) Result {
	if p.RequestType == "" {
		p.RequestType = AppointmentRequestType
	}
	res := a.send(ctx, p)
	a.record(room, "confirm_and_send_appointment", map[string]any{
		"name":                 p.Name,
		"email":                p.Email,
		"appointment_datetime": p.AppointmentDatetime,
	}, res)
	return res
}

// Schedule validates and sends in one step.
func (a *AppointmentTools) Schedule(ctx context.Context, room string, req AppointmentRequest) Result {
	prep := a.Prepare(req)
	args := map[string]any{
		"name":                 req.Name,
		"email":                req.Email,
		"appointment_datetime": req.AppointmentDatetime,
	}
	if prep.Status != StatusOK {
		a.record(room, "schedule_appointment", args, prep)
		return prep
	}
	res := a.send(ctx, *prep.Payload)
	res.Payload = prep.Payload
	a.record(room, "schedule_appointment", args, res)
	return res
}

func (a *AppointmentTools) send(ctx context.Context, p AppointmentPayload) Result {
	if a.URL == "" {
		return errorResult("Configuration error: APPOINTMENT_WEBHOOK_URL is not set.")
	}
	out := a.Sender.Send(ctx, a.URL, p)
	log := a.logger().With("attempts", out.Attempts, "status_code", out.StatusCode)
	switch {
	case out.Status == delivery.StatusOK:
		log.Info("appointment webhook succeeded")
		return Result{Status: StatusOK, Message: "Your appointment details have been submitted. We will confirm shortly."}
	case out.StatusCode > 0:
		log.Warn("appointment webhook failed", "message", out.Message)
		return errorResult(fmt.Sprintf("Failed to submit appointment (status %d). Please try again later.", out.StatusCode))
	default:
		log.Error("appointment webhook unreachable", "message", out.Message)
		return errorResult("There was a network error submitting your appointment. Please try again later.")
	}
}

func (a *AppointmentTools) record(room, name string, args map[string]any, res Result) {
	if a.ToolLog == nil || room == "" {
		return
	}
	a.ToolLog(room).Record(name, args, map[string]any{"status": res.Status, "message": res.Message})
}
