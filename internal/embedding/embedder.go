package embedding

import "fmt"

// Error is returned when an embedding could not be produced: the endpoint
// stayed unreachable after retries, answered with a non-success status, or
// sent a response without an embedding.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s embedding failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
