package telephony

import (
	"net/http"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only.
type TwilioInboundForm struct {
	CallSid     string
	AccountSid  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	CallerName  string
	FromCity    string
	FromState   string
	FromCountry string
	RoomName    string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:     r.PostFormValue("CallSid"),
		AccountSid:  r.PostFormValue("AccountSid"),
		From:        normalizePhone(r.PostFormValue("From")),
		To:          normalizePhone(r.PostFormValue("To")),
		Direction:   r.PostFormValue("Direction"),
		CallStatus:  r.PostFormValue("CallStatus"),
		CallerName:  r.PostFormValue("CallerName"),
		FromCity:    r.PostFormValue("FromCity"),
		FromState:   r.PostFormValue("FromState"),
		FromCountry: r.PostFormValue("FromCountry"),
		RoomName:    r.PostFormValue("room_name"),
	}
	return f, nil
}

func (f TwilioInboundForm) ToInboundCallRequest() InboundCallRequest {
	meta := map[string]any{
		"source":      "twilio",
		"to":          f.To,
		"call_status": f.CallStatus,
	}
	if f.AccountSid != "" {
		meta["account_sid"] = f.AccountSid
	}
	if f.FromCity != "" || f.FromState != "" || f.FromCountry != "" {
		meta["from_location"] = map[string]string{
			"city":    f.FromCity,
			"state":   f.FromState,
			"country": f.FromCountry,
		}
	}
	return InboundCallRequest{
		PhoneNumber: f.From,
		CallerID:    f.CallerName,
		CallID:      f.CallSid,
		RoomName:    f.RoomName,
		Metadata:    meta,
	}
}
