package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"smsrag/internal/domain"
)

// Record is a document together with its embedding, as handed to a backend.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// Backend is a similarity index holding one collection. Query returns at
// most k hits ordered by ascending distance. Implementations must be safe
// for concurrent use.
type Backend interface {
	Name() string
	Add(ctx context.Context, rec Record) error
	Query(ctx context.Context, vector []float32, k int) ([]domain.Hit, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

var (
	// ErrDuplicateID is returned when a document id is already stored.
	ErrDuplicateID = errors.New("document id already exists")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// collection's dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidDocument is returned for documents without id or content.
	ErrInvalidDocument = errors.New("document id and content are required")
)

// BackendError is a store-level rejection or failure of the backing index.
type BackendError struct {
	Backend string
	Op      string
	ID      string
	Err     error
}

func (e *BackendError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// SquaredL2 is the distance used by the built-in backends: the squared
// Euclidean distance between a and b. Both vectors must have the same length.
func SquaredL2(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum, nil
}
