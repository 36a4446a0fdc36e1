package domain

import "errors"

// Error taxonomy of the orchestration pipeline. Adapters wrap transport
// details around these sentinels with %w so callers can classify with
// errors.Is.
var (
	ErrRetrievalUnavailable  = errors.New("retrieval service unavailable")
	ErrRetrievalTimeout      = errors.New("retrieval timed out")
	ErrPayloadTooLarge       = errors.New("payload exceeds size budget")
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrGenerationTimeout     = errors.New("generation timed out")
	ErrGenerationRejected    = errors.New("generation request rejected")
	ErrInvalidTurnOrder      = errors.New("turn timestamp precedes last recorded turn")
)

// Transient reports whether err belongs to the retryable network class.
// Rejected requests, oversized payloads and ordering violations are policy
// errors and are never retried.
func Transient(err error) bool {
	return errors.Is(err, ErrRetrievalUnavailable) ||
		errors.Is(err, ErrRetrievalTimeout) ||
		errors.Is(err, ErrGenerationUnavailable) ||
		errors.Is(err, ErrGenerationTimeout)
}
