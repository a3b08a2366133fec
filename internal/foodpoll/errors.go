package foodpoll

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState indicates a mutation attempted against the poll lifecycle
	// rules, such as editing the location specifier after commit or a non-host
	// changing settings.
	ErrInvalidState = errors.New("foodpoll: invalid state for operation")
	// ErrPollNotFound indicates the poll is not known to the local view.
	ErrPollNotFound = errors.New("foodpoll: poll not found")
	// ErrPollClosed indicates the poll no longer accepts votes.
	ErrPollClosed = errors.New("foodpoll: poll closed")
	// ErrNotInvited indicates the voter is not in the poll's invited set.
	ErrNotInvited = errors.New("foodpoll: voter not invited")
)

// ValidationError reports an incomplete poll at commit time, naming the
// field that is missing or malformed.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("foodpoll: poll validation failed: missing %s", e.Field)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
