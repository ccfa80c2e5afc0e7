package domain

import "context"

// Document is a stored, retrievable passage. Documents are immutable once
// stored; the only way to change one is to delete it and add it again.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Chunk is a bounded part of a longer document produced during ingestion.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
}

// Hit is a single nearest-neighbour match. Distance is a dissimilarity
// score: lower is better and there is no fixed upper bound.
type Hit struct {
	ID       string
	Content  string
	Distance float64
	Metadata map[string]any
}

// SearchResult holds hits ordered by ascending distance.
type SearchResult []Hit

// QueryOutcome is the result of a relevance-filtered search.
//
// NoEvidence distinguishes "nothing relevant was found" from a successful
// search whose summary was simply not requested (Summary == nil).
type QueryOutcome struct {
	CombinedEvidence string
	Summary          *string
	Hits             SearchResult
	NoEvidence       bool
}

// Nearest returns the closest hit, or false when there is no evidence.
func (o QueryOutcome) Nearest() (Hit, bool) {
	if o.NoEvidence || len(o.Hits) == 0 {
		return Hit{}, false
	}
	return o.Hits[0], true
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator turns a prompt into SMS-safe free text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Messenger delivers a reply to a phone number over the outbound channel.
type Messenger interface {
	Send(ctx context.Context, to, text string) error
}
