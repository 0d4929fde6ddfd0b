package calls

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("calls: trunk not configured")
	ErrUnknownCall   = errors.New("calls: unknown call")
	ErrDuplicateCall = errors.New("calls: call id already active")
	ErrInvalidInput  = errors.New("calls: invalid input")
)

// ProvisioningError is returned when the remote participant could not be created.
// The call has already been marked failed and removed when this is returned.
type ProvisioningError struct {
	CallID string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("calls: provisioning %s: %v", e.CallID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
