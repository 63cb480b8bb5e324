package ledger

import "errors"

// Failure classes of a heartbeat execution. Every error returned by
// Heartbeat.Execute wraps exactly one of these.
var (
	ErrIdentity   = errors.New("identity error")
	ErrFunding    = errors.New("funding error")
	ErrNetwork    = errors.New("network error")
	ErrSubmission = errors.New("submission error")
)

// IdentityStore results.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
)

// ErrorKind returns a short label for the failure class wrapped by err,
// or "unknown" for anything else.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIdentity):
		return "identity"
	case errors.Is(err, ErrFunding):
		return "funding"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrSubmission):
		return "submission"
	default:
		return "unknown"
	}
}
