package negotiation

import (
	"errors"
	"fmt"
)

// Error codes for negotiation failures. Local validation codes are rejected
// before any write is attempted.
const (
	CodeInvalidPrice           = "INVALID_PRICE"
	CodeInvalidMessage         = "INVALID_MESSAGE"
	CodeForbidden              = "FORBIDDEN"
	CodeOutOfTurn              = "OUT_OF_TURN"
	CodeNothingToAccept        = "NOTHING_TO_ACCEPT"
	CodeNotAgreed              = "NOT_AGREED"
	CodeAlreadyResolved        = "ALREADY_RESOLVED"
	CodeSessionClosed          = "SESSION_CLOSED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeStoreUnavailable       = "STORE_UNAVAILABLE"
)

// NegotiationError carries enough context for the caller to decide whether
// to re-fetch and retry.
type NegotiationError struct {
	Code      string
	Action    string
	SessionID string
	Version   int64
	Message   string
	Err       error
}

func (e *NegotiationError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (action=%s session=%s version=%d)", e.Code, e.Message, e.Action, e.SessionID, e.Version)
	}
	return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.Action)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a NegotiationError with the given code.
func IsCode(err error, code string) bool {
	var negErr *NegotiationError
	return errors.As(err, &negErr) && negErr.Code == code
}

// ErrorCode returns the negotiation error code carried by err, or "".
func ErrorCode(err error) string {
	var negErr *NegotiationError
	if errors.As(err, &negErr) {
		return negErr.Code
	}
	return ""
}
