package calls

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[CallStatus][]CallStatus{
	CallStatusInitiated: {CallStatusRinging, CallStatusConnected, CallStatusFailed},
	CallStatusRinging:   {CallStatusConnected, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer},
	CallStatusConnected: {CallStatusCompleted, CallStatusFailed},
}

// Terminal reports whether no further transitions are allowed from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer:
		return true
	}
	return false
}

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusConnected,
		CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the call state machine.
func CanTransition(from, to CallStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts the status strings used by providers and webhooks.
func ParseStatus(raw string) (CallStatus, bool) {
	switch raw {
	case "in-progress", "in_progress", "answered":
		return CallStatusConnected, true
	case "no-answer":
		return CallStatusNoAnswer, true
	case "canceled", "cancelled":
		return CallStatusFailed, true
	case "queued":
		return CallStatusInitiated, true
	}
	s := CallStatus(raw)
	return s, s.Valid()
}
