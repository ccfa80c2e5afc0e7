package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"smsrag/internal/vectorstore"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant serves the handful of endpoints the client uses for a single
// collection named "docs".
type fakeQdrant struct {
	mu     sync.Mutex
	size   int
	points map[string]point
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const base = "/collections/docs"
	path := r.URL.Path
	switch {
	case path == base && r.Method == http.MethodGet:
		if f.size == 0 {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Euclid"}}}}})
	case path == base && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.size = body.Vectors.Size
		writeJSON(w, map[string]any{"result": true})
	case strings.HasPrefix(path, base+"/points/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(path, base+"/points/")
		if _, ok := f.points[id]; !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"id": id}})
	case path == base+"/points" && r.Method == http.MethodPut:
		var body struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case path == base+"/points/search":
		var body struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type scored struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var out []scored
		for _, p := range f.points {
			var sum float64
			for i := range p.Vector {
				d := p.Vector[i] - body.Vector[i]
				sum += d * d
			}
			out = append(out, scored{Score: math.Sqrt(sum), Payload: p.Payload})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
		if len(out) > body.Limit {
			out = out[:body.Limit]
		}
		writeJSON(w, map[string]any{"result": out})
	case path == base+"/points/delete":
		var body struct {
			Points []string `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.Points {
			delete(f.points, id)
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case path == base+"/points/count":
		writeJSON(w, map[string]any{"result": map[string]any{"count": len(f.points)}})
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{points: map[string]point{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewStorage(Config{URL: srv.URL, Collection: "docs"}, arbor.NewLogger())
	require.NoError(t, err)
	return s, fake
}

func TestStorage_CreatesCollectionOnFirstAdd(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	hits, err := s.Query(ctx, []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Add(ctx, vectorstore.Record{ID: "a", Content: "alpha", Embedding: []float32{3, 4}}))
	assert.Equal(t, 2, fake.size)
	assert.Contains(t, fake.points, PointID("a"))
}

func TestStorage_QueryReturnsSquaredDistances(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	require.NoError(t, s.Add(ctx, vectorstore.Record{ID: "a", Content: "alpha", Metadata: map[string]any{"source_file": "a.txt"}, Embedding: []float32{3, 4}}))
	require.NoError(t, s.Add(ctx, vectorstore.Record{ID: "b", Content: "beta", Embedding: []float32{1, 0}}))

	hits, err := s.Query(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Distance, 1e-6)
	assert.Equal(t, "a", hits[1].ID)
	assert.Equal(t, "alpha", hits[1].Content)
	assert.InDelta(t, 25.0, hits[1].Distance, 1e-6)
	assert.Equal(t, "a.txt", hits[1].Metadata["source_file"])
}

func TestStorage_DuplicateDeleteCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	require.NoError(t, s.Add(ctx, vectorstore.Record{ID: "a", Content: "alpha", Embedding: []float32{1}}))
	err := s.Add(ctx, vectorstore.Record{ID: "a", Content: "again", Embedding: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrDuplicateID)

	err = s.Add(ctx, vectorstore.Record{ID: "b", Content: "wide", Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPointID_IsStable(t *testing.T) {
	assert.Equal(t, PointID("faq.txt_chunk_1"), PointID("faq.txt_chunk_1"))
	assert.NotEqual(t, PointID("faq.txt_chunk_1"), PointID("faq.txt_chunk_2"))
}
