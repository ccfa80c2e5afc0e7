package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"smsrag/internal/domain"
	"smsrag/internal/vectorstore"
)

// pointNamespace derives stable point UUIDs from document ids; Qdrant only
// accepts unsigned integers and UUIDs as point ids.
var pointNamespace = uuid.MustParse("6f1c3b52-8a0e-4c55-9d64-2f8e0b7a9c11")

// errNotFound marks a 404 from the REST API.
var errNotFound = errors.New("not found")

// Storage is a minimal REST client to Qdrant.
// The collection uses Euclid distance and is created on first write when
// missing; reported distances are squared to match the other backends.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	logger     arbor.ILogger

	mu        sync.Mutex
	dimension int
	ready     bool
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewStorage(cfg Config, logger arbor.ILogger) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// PointID is the Qdrant point id stored for a document id.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

func (s *Storage) Name() string { return "qdrant" }

// ensureCollection loads the collection's vector size or creates the
// collection with the given size. It must be called with s.mu held.
func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	if s.ready {
		return nil
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	switch {
	case err == nil:
		size := info.Result.Config.Params.Vectors.Size
		if s.dimension != 0 && size != 0 && size != s.dimension {
			return fmt.Errorf("%w: stored %d, configured %d", vectorstore.ErrDimensionMismatch, size, s.dimension)
		}
		s.dimension = size
		s.ready = true
		return nil
	case !errors.Is(err, errNotFound):
		return err
	}

	if dimension <= 0 {
		// nothing to create yet
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Euclid",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	s.dimension = dimension
	s.ready = true
	s.logger.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created Qdrant collection")
	return nil
}

func (s *Storage) Add(ctx context.Context, rec vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.dimension
	if want == 0 {
		want = len(rec.Embedding)
	}
	if err := s.ensureCollection(ctx, want); err != nil {
		return err
	}
	if len(rec.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, collection has %d", vectorstore.ErrDimensionMismatch, len(rec.Embedding), s.dimension)
	}

	id := PointID(rec.ID)
	err := s.do(ctx, http.MethodGet, s.collectionURL("/points/"+id), nil, nil)
	if err == nil {
		return vectorstore.ErrDuplicateID
	}
	if !errors.Is(err, errNotFound) {
		return err
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":     id,
			"vector": rec.Embedding,
			"payload": map[string]any{
				"doc_id":   rec.ID,
				"content":  rec.Content,
				"metadata": rec.Metadata,
			},
		}},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	err := s.ensureCollection(ctx, 0)
	ready, dimension := s.ready, s.dimension
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vectorstore.ErrDimensionMismatch, len(vector), dimension)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				DocID    string         `json:"doc_id"`
				Content  string         `json:"content"`
				Metadata map[string]any `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]domain.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := r.Payload.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		hits = append(hits, domain.Hit{
			ID:       r.Payload.DocID,
			Content:  r.Payload.Content,
			Distance: r.Score * r.Score,
			Metadata: meta,
		})
	}
	return hits, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCollection(ctx, 0); err != nil || !s.ready {
		return err
	}
	body := map[string]any{"points": []string{PointID(id)}}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	err := s.ensureCollection(ctx, 0)
	ready := s.ready
	s.mu.Unlock()
	if err != nil || !ready {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
