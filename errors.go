package storyflow

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports missing or malformed user input. It is surfaced
// as an inline user-facing message; the operation aborts before any graph
// mutation or collaborator call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransferError reports that every step of the image-normalization fallback
// chain failed for a source URL. Individual step failures are recovered
// internally; only total failure surfaces as a TransferError.
type TransferError struct {
	URL      string
	Attempts []error
}

func (e *TransferError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msgs = append(msgs, a.Error())
	}
	return fmt.Sprintf("transfer failed for %s after %d attempts: %s",
		e.URL, len(e.Attempts), strings.Join(msgs, "; "))
}

// Unwrap exposes the last attempt error for errors.Is/As chains.
func (e *TransferError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// GenerationError reports a failed collaborator call. The placeholder node
// that represents the work is retained with StatusError so the failure is
// inspectable and retryable; it is never removed automatically.
type GenerationError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed for node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// shortMessage trims an error to a short, node-displayable message.
func shortMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	const max = 120
	if len(msg) > max {
		msg = msg[:max] + "…"
	}
	return msg
}
