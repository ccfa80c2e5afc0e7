// Package vectorstore stores documents with their embeddings and answers
// relevance-filtered nearest-neighbour queries over them.
package vectorstore

import (
	"context"
	"errors"
	"strings"

	"github.com/ternarybob/arbor"

	"smsrag/internal/domain"
)

// Search defaults.
const (
	DefaultTopK              = 5
	DefaultDistanceThreshold = 150.0
)

// SearchOptions tunes a single search. A zero TopK or a nil
// DistanceThreshold falls back to the store's defaults.
type SearchOptions struct {
	TopK              int
	DistanceThreshold *float64
}

// Threshold returns d as a DistanceThreshold override. Threshold(0) keeps
// exact matches only.
func Threshold(d float64) *float64 { return &d }

// Defaults are the store-wide search settings. Non-positive values are
// replaced by DefaultTopK and DefaultDistanceThreshold.
type Defaults struct {
	TopK              int
	DistanceThreshold float64
}

// Store owns add/search/delete against one collection. It is constructed
// once by the composition root and shared; it adds no locking of its own
// and relies on the backend being safe for concurrent use.
type Store struct {
	backend  Backend
	embedder domain.Embedder
	defaults Defaults
	logger   arbor.ILogger
}

// NewStore wraps an already opened backend.
func NewStore(backend Backend, embedder domain.Embedder, defaults Defaults, logger arbor.ILogger) *Store {
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultTopK
	}
	if defaults.DistanceThreshold <= 0 {
		defaults.DistanceThreshold = DefaultDistanceThreshold
	}
	return &Store{backend: backend, embedder: embedder, defaults: defaults, logger: logger}
}

// Defaults returns the options used for zero-valued search fields.
func (s *Store) Defaults() Defaults { return s.defaults }

// Add embeds content and stores the document. Embedding failures are
// returned as is; index rejections come back as *BackendError.
func (s *Store) Add(ctx context.Context, id, content string, metadata map[string]any) error {
	if strings.TrimSpace(id) == "" || content == "" {
		return &BackendError{Backend: s.backend.Name(), Op: "add", ID: id, Err: ErrInvalidDocument}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	rec := Record{ID: id, Content: content, Metadata: metadata, Embedding: vec}
	if err := s.backend.Add(ctx, rec); err != nil {
		return wrap(s.backend.Name(), "add", id, err)
	}
	s.logger.Debug().
		Str("doc_id", id).
		Int("content_length", len(content)).
		Int("embedding_dim", len(vec)).
		Msg("Stored document")
	return nil
}

// Search embeds query, takes the TopK nearest neighbours from the index and
// keeps those within DistanceThreshold. The filter runs after the top-k
// cut, so matches ranked below TopK are not considered. When nothing
// survives the outcome has NoEvidence set.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) (domain.QueryOutcome, error) {
	if opts.TopK <= 0 {
		opts.TopK = s.defaults.TopK
	}
	threshold := s.defaults.DistanceThreshold
	if opts.DistanceThreshold != nil {
		threshold = *opts.DistanceThreshold
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return domain.QueryOutcome{}, err
	}
	hits, err := s.backend.Query(ctx, vec, opts.TopK)
	if err != nil {
		return domain.QueryOutcome{}, wrap(s.backend.Name(), "search", "", err)
	}

	kept := make(domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Distance <= threshold {
			kept = append(kept, h)
		}
	}

	s.logger.Debug().
		Int("top_k", opts.TopK).
		Float64("threshold", threshold).
		Int("retrieved", len(hits)).
		Int("relevant", len(kept)).
		Msg("Vector search finished")

	if len(kept) == 0 {
		return domain.QueryOutcome{NoEvidence: true}, nil
	}
	contents := make([]string, len(kept))
	for i, h := range kept {
		contents[i] = h.Content
	}
	return domain.QueryOutcome{
		CombinedEvidence: strings.Join(contents, "\n"),
		Hits:             kept,
	}, nil
}

// Delete removes a document. Deleting an id that is not stored succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return wrap(s.backend.Name(), "delete", id, err)
	}
	s.logger.Debug().Str("doc_id", id).Msg("Deleted document")
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, wrap(s.backend.Name(), "count", "", err)
	}
	return n, nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

func wrap(backend, op, id string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, ID: id, Err: err}
}
