package authority

import "fmt"

// FetchError is a failed read: the network call or response parse broke.
// Callers degrade the affected view to an explicit empty/error state and
// must not keep stale derived data.
type FetchError struct {
	Op  string // endpoint name, e.g. "list dates"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("authority: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationRejectedError is a write the authority refused: success=false, a
// non-2xx status, or a transport failure (treated identically so a mutation
// is never left in limbo). Message is always human-readable.
type MutationRejectedError struct {
	Op      string
	Message string
	Err     error // underlying transport/parse error, if any
}

const genericRejectionMessage = "The change could not be saved. Please try again."

func (e *MutationRejectedError) Error() string {
	return fmt.Sprintf("authority: %s rejected: %s", e.Op, e.Message)
}

func (e *MutationRejectedError) Unwrap() error { return e.Err }

// UserMessage returns the authority's error text, or a default when it sent
// none.
func (e *MutationRejectedError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return genericRejectionMessage
}

func rejected(op, message string, err error) *MutationRejectedError {
	if message == "" {
		message = genericRejectionMessage
	}
	return &MutationRejectedError{Op: op, Message: message, Err: err}
}
