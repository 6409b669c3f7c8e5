package decoder

import "errors"

var (
	// ErrInvariantViolation signals a chart cell filled twice. It indicates
	// a bug in fill ordering and aborts the current decode only.
	ErrInvariantViolation = errors.New("chart invariant violated")
	// ErrTimeout is returned when a sentence exceeds its wall-clock budget.
	ErrTimeout = errors.New("decode timed out")
	// ErrNoDerivation marks a completed chart whose top cell is empty.
	ErrNoDerivation = errors.New("no full-span derivation")
	// ErrInvalidInput reports a sentence and score table that do not fit
	// together or the vocabulary.
	ErrInvalidInput = errors.New("invalid decoder input")
	// ErrInvalidMode rejects an unknown diagnostic mode string.
	ErrInvalidMode = errors.New("invalid mode")
)
