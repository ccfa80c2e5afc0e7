package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrag/internal/vectorstore"
)

func rec(id string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{ID: id, Content: "content " + id, Metadata: map[string]any{"n": id}, Embedding: vec}
}

func TestStorage_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(0)
	require.NoError(t, s.Add(ctx, rec("far", 10, 0)))
	require.NoError(t, s.Add(ctx, rec("near", 1, 0)))
	require.NoError(t, s.Add(ctx, rec("mid", 3, 0)))

	hits, err := s.Query(ctx, []float32{0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Distance, 1e-9)
	assert.Equal(t, "mid", hits[1].ID)
	assert.InDelta(t, 9.0, hits[1].Distance, 1e-9)
	assert.Equal(t, "content near", hits[0].Content)
}

func TestStorage_DuplicateAndDimension(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	require.NoError(t, s.Add(ctx, rec("a", 1, 1)))

	assert.ErrorIs(t, s.Add(ctx, rec("a", 2, 2)), vectorstore.ErrDuplicateID)
	assert.ErrorIs(t, s.Add(ctx, rec("b", 1, 2, 3)), vectorstore.ErrDimensionMismatch)

	_, err := s.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestStorage_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(0)
	require.NoError(t, s.Add(ctx, rec("a", 1)))
	require.NoError(t, s.Add(ctx, rec("b", 2)))
	require.NoError(t, s.Add(ctx, rec("c", 3)))

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))

	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)
	hits, err := s.Query(ctx, []float32{0}, 10)
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)

	// re-adding a deleted id is allowed
	require.NoError(t, s.Add(ctx, rec("a", 1)))
}

func TestStorage_EmptyQuery(t *testing.T) {
	hits, err := NewStorage(0).Query(context.Background(), []float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStorage_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(1)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Add(ctx, rec(fmt.Sprintf("d%d", i), float32(i)))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Query(ctx, []float32{0}, 3)
		}()
	}
	wg.Wait()
	n, _ := s.Count(ctx)
	assert.Equal(t, 20, n)
}
