package trust

import "errors"

// Verification and registration failures. All are non-fatal: each rejects
// a single envelope or binding and the caller decides policy. None is
// worth retrying with identical input.
var (
	// ErrUnknownProducer means the envelope references a producer with no
	// registered verification key.
	ErrUnknownProducer = errors.New("unknown producer")

	// ErrInvalidSignature means the signature does not verify over the
	// envelope's signed fields.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrClockRegression means the envelope's counter is not past the
	// highest counter already accepted for its producer. Distinct from
	// ErrInvalidSignature: it indicates a replay or rollback attempt, not
	// a malformed message.
	ErrClockRegression = errors.New("clock regression")

	// ErrDuplicateProducer means a producer is already registered with a
	// different verification key.
	ErrDuplicateProducer = errors.New("duplicate producer")
)

// Reason returns the short stable name of a verification error kind, for
// metrics labels and wire-level rejection reports.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProducer):
		return "unknown_producer"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrClockRegression):
		return "clock_regression"
	case errors.Is(err, ErrDuplicateProducer):
		return "duplicate_producer"
	default:
		return "other"
	}
}
