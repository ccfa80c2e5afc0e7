package retry

import "fmt"

// TransportError covers network failures and non-2xx HTTP statuses. These
// are the only failures Do retries.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("POST %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("POST %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a response that arrived intact but cannot be
// decoded or lacks the expected field. It is never retried.
type MalformedResponseError struct {
	URL    string
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("malformed response from %s: %s: %s", e.URL, e.Reason, e.Body)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Reason)
}
