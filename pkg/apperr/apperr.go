package apperr

import "errors"

// Sentinel errors shared across the client packages. Callers classify
// failures with errors.Is so wrapped errors keep their original context.
var (
	// ErrNotFound marks a resource or candidate endpoint that does not
	// exist; probing treats it as "try the next candidate".
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied marks an authorization mismatch. It is terminal:
	// neither probing nor delivery fallback continues past it.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNetworkUnavailable marks a failed connectivity pre-check and
	// short-circuits expensive endpoint probing.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrTimeout bounds a single attempt; it fails that path only and
	// allows fallback to proceed.
	ErrTimeout = errors.New("attempt timed out")

	// ErrExhausted means every candidate endpoint for an operation failed.
	ErrExhausted = errors.New("all endpoint candidates exhausted")

	// ErrAuth marks an invalid or expired session token on the realtime
	// channel; it is surfaced distinctly and never retried automatically.
	ErrAuth = errors.New("authentication failed")
)

// Terminal reports whether err should stop fallback chains outright.
func Terminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrAuth)
}
