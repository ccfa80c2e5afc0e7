package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"smsrag/internal/chunker"
	"smsrag/internal/embedding/hashing"
	"smsrag/internal/service"
	"smsrag/internal/vectorstore"
	"smsrag/internal/vectorstore/memory"
)

func newIngestor() (*service.Ingestor, *vectorstore.Store) {
	logger := arbor.NewLogger()
	store := vectorstore.NewStore(memory.NewStorage(0), hashing.NewEmbedder(64), vectorstore.Defaults{}, logger)
	return service.NewIngestor(chunker.NewParagraphChunker(500), store, logger), store
}

func TestIngestFiles_SkipsAlreadyIngested(t *testing.T) {
	dir := t.TempDir()
	faq := filepath.Join(dir, "faq.txt")
	guide := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(faq, []byte("Our office hours are 9 to 5."), 0o644))
	require.NoError(t, os.WriteFile(guide, []byte("# Guide\n\nParking is behind the building."), 0o644))

	ingestor, store := newIngestor()
	ctx := context.Background()

	first, err := ingestFiles(ctx, ingestor, []string{faq, guide})
	require.NoError(t, err)
	assert.Equal(t, 2, first.files)
	assert.Equal(t, 2, first.chunks)
	assert.Empty(t, first.skipped)

	second, err := ingestFiles(ctx, ingestor, []string{faq, guide})
	require.NoError(t, err)
	assert.Zero(t, second.files)
	assert.Equal(t, []string{faq, guide}, second.skipped)
	assert.Contains(t, second.String(), "2 already ingested")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestFiles_MissingFile(t *testing.T) {
	ingestor, _ := newIngestor()

	_, err := ingestFiles(context.Background(), ingestor, []string{filepath.Join(t.TempDir(), "nope.txt")})

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.md", "b.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	got := expandInputs([]string{filepath.Join(dir, "*.md"), "literal.txt"})

	assert.Equal(t, []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.md"), "literal.txt"}, got)
}
