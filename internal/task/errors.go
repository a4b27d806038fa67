package task

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, adapters and engine.
var (
	// ErrAuthExpired means a stored credential no longer works; the user must reconnect.
	ErrAuthExpired = errors.New("credential expired or revoked")
	// ErrNotFound is a normal negative result (no contact, task or message).
	ErrNotFound = errors.New("not found")
	// ErrExternalService is an upstream failure that may be transient.
	ErrExternalService = errors.New("external service error")
	// ErrValidation covers malformed input and malformed model output.
	ErrValidation = errors.New("validation error")
	// ErrStorage is a persistence failure.
	ErrStorage = errors.New("storage error")
)

// Specialisations; each wraps one of the kinds above.
var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrNoAvailability    = fmt.Errorf("%w: no available time slots", ErrValidation)
	ErrPolicyDenied      = fmt.Errorf("%w: blocked by outbound policy", ErrValidation)
	ErrTimeout           = fmt.Errorf("%w: timed out", ErrExternalService)
	ErrNotConnected      = fmt.Errorf("%w: account not connected", ErrAuthExpired)
)

// Error kind labels, used in task metadata and API responses.
const (
	KindAuthExpired = "auth_expired"
	KindNotFound    = "not_found"
	KindExternal    = "external_service"
	KindValidation  = "validation"
	KindStorage     = "storage"
	KindInternal    = "internal"
)

// Kind classifies err into the taxonomy. Unknown errors are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrExternalService):
		return KindExternal
	default:
		return KindInternal
	}
}
