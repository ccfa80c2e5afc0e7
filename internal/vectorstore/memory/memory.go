package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"smsrag/internal/domain"
	"smsrag/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force squared L2
// distance. Reads run concurrently; writes are serialized.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	ids       map[string]int
	records   []vectorstore.Record
}

// NewStorage creates an empty store. A dimension of 0 lets the first added
// document fix it.
func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, ids: make(map[string]int)}
}

func (s *Storage) Name() string { return "memory" }

func (s *Storage) Add(_ context.Context, rec vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[rec.ID]; ok {
		return vectorstore.ErrDuplicateID
	}
	if s.dimension == 0 {
		s.dimension = len(rec.Embedding)
	}
	if len(rec.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, collection has %d", vectorstore.ErrDimensionMismatch, len(rec.Embedding), s.dimension)
	}
	s.ids[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

func (s *Storage) Query(_ context.Context, vector []float32, k int) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimension)
	}
	hits := make([]domain.Hit, len(s.records))
	for i, rec := range s.records {
		d, err := vectorstore.SquaredL2(rec.Embedding, vector)
		if err != nil {
			return nil, err
		}
		hits[i] = domain.Hit{ID: rec.ID, Content: rec.Content, Distance: d, Metadata: rec.Metadata}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func (s *Storage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.ids[id]
	if !ok {
		return nil
	}
	last := len(s.records) - 1
	if idx != last {
		s.records[idx] = s.records[last]
		s.ids[s.records[idx].ID] = idx
	}
	s.records = s.records[:last]
	delete(s.ids, id)
	return nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Storage) Close() error { return nil }
