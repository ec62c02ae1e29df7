package domain

import "errors"

var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyContent         = errors.New("empty message content")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrNotParticipant       = errors.New("user not participant")
	ErrNotSender            = errors.New("user is not the message sender")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrConflict marks a lost uniqueness race. It is resolved internally
	// by re-reading the winning row and never reaches callers.
	ErrConflict = errors.New("conflicting write")

	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// TransientError wraps a backend failure that is eligible for retry
// (network timeouts, connection drops, serialization failures).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient backend error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
