// Package generation turns prompts into short, SMS-safe replies using a
// local model server or a hosted chat API. The backend is chosen once at
// startup; every backend sanitizes its output and makes a single attempt.
package generation

import (
	"errors"
	"fmt"

	"smsrag/internal/retry"
	"smsrag/internal/sms"
)

const (
	// SystemPrompt is the fixed system role used by the hosted backends.
	SystemPrompt = "You are a helpful assistant."

	// DefaultTemperature is the sampling temperature used by the hosted backends.
	DefaultTemperature = 0.7

	// smsInstruction is appended to every prompt sent to a hosted backend.
	smsInstruction = "\n\nPlease summarize this in plain text suitable for SMS. " +
		"The summary must be concise, avoid line breaks, special characters, or formatting, " +
		"and fit in 160 characters or less."
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindMalformed Kind = "malformed"
)

// Error is a failed generation call on a specific backend.
type Error struct {
	Backend string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s generation error (%s): %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(backend string, err error) *Error {
	kind := KindTransport
	var malformed *retry.MalformedResponseError
	if errors.As(err, &malformed) {
		kind = KindMalformed
	}
	return &Error{Backend: backend, Kind: kind, Err: err}
}

func malformed(backend, url, reason string) *Error {
	return &Error{
		Backend: backend,
		Kind:    KindMalformed,
		Err:     &retry.MalformedResponseError{URL: url, Reason: reason},
	}
}

// withSMSInstruction frames a prompt for a hosted chat model.
func withSMSInstruction(prompt string) string {
	return prompt + smsInstruction
}

func finish(text string) string {
	return sms.Sanitize(text)
}
