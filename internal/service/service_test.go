package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"smsrag/internal/chunker"
	"smsrag/internal/embedding/hashing"
	"smsrag/internal/vectorstore"
	"smsrag/internal/vectorstore/memory"
)

// scriptedGenerator returns replies in order and records every prompt.
type scriptedGenerator struct {
	replies []string
	errAt   int
	err     error
	prompts []string
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil && len(g.prompts) == g.errAt {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func newTestStore() *vectorstore.Store {
	return vectorstore.NewStore(memory.NewStorage(0), hashing.NewEmbedder(hashing.DefaultDimension), vectorstore.Defaults{}, arbor.NewLogger())
}

func TestSearch_NearestDocumentIsFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	require.NoError(t, store.Add(ctx, "d1", "Our office hours are 9 to 5.", map[string]any{}))
	p := NewPipeline(store, &scriptedGenerator{}, 0, arbor.NewLogger())

	out, err := p.Search(ctx, SearchRequest{Query: "when are you open", DistanceThreshold: vectorstore.Threshold(150.0)})

	require.NoError(t, err)
	assert.False(t, out.NoEvidence)
	nearest, ok := out.Nearest()
	require.True(t, ok)
	assert.Equal(t, "d1", nearest.ID)
	assert.Nil(t, out.Summary)
}

func TestSearch_EmptyStoreHasNoEvidence(t *testing.T) {
	gen := &scriptedGenerator{}
	p := NewPipeline(newTestStore(), gen, 0, arbor.NewLogger())

	out, err := p.Search(context.Background(), SearchRequest{Query: "anything", Summarize: true})

	require.NoError(t, err)
	assert.True(t, out.NoEvidence)
	assert.Nil(t, out.Summary)
	assert.Empty(t, gen.prompts, "no summary is generated without evidence")
}

func TestSearch_Summarize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	require.NoError(t, store.Add(ctx, "d1", "Parking is free on weekends.", nil))
	gen := &scriptedGenerator{replies: []string{" Free parking on weekends. "}}
	p := NewPipeline(store, gen, 0, arbor.NewLogger())

	out, err := p.Search(ctx, SearchRequest{Query: "parking", Summarize: true})

	require.NoError(t, err)
	require.NotNil(t, out.Summary)
	assert.Equal(t, "Free parking on weekends.", *out.Summary)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "'parking'")
	assert.Contains(t, gen.prompts[0], "Parking is free on weekends.")
}

func TestProcess_AnswersFromNearestDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	require.NoError(t, store.Add(ctx, "d1", "Our office hours are 9 to 5.", nil))
	require.NoError(t, store.Add(ctx, "d2", "The cafeteria serves lunch at noon.", nil))
	gen := &scriptedGenerator{replies: []string{"office hours", "We are open 9 to 5."}}
	p := NewPipeline(store, gen, 0, arbor.NewLogger())

	reply, err := p.Process(ctx, "when are you open?")

	require.NoError(t, err)
	assert.Equal(t, "We are open 9 to 5.", reply)
	require.Len(t, gen.prompts, 2)
	assert.Equal(t, "The user has asked a question via SMS. Here is their message:\nwhen are you open?\n\n"+
		"Using plain text, explain what data or intent they are searching for so I can query a database.", gen.prompts[0])
	assert.True(t, strings.HasPrefix(gen.prompts[1], "The user searched for: when are you open?.\n"))
	assert.Contains(t, gen.prompts[1], "The database retrieved a matching result: Our office hours are 9 to 5..")
	assert.NotContains(t, gen.prompts[1], "cafeteria")
	assert.Contains(t, gen.prompts[1], "less than 160 characters")
}

func TestProcess_NoEvidence(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"parking", "Sorry, nothing found."}}
	p := NewPipeline(newTestStore(), gen, 0, arbor.NewLogger())

	reply, err := p.Process(context.Background(), "where do I park")

	require.NoError(t, err)
	assert.Equal(t, "Sorry, nothing found.", reply)
	assert.Equal(t, "The user searched for something related to: where do I park. No matching data found in the database. Respond politely.", gen.prompts[1])
}

func TestProcess_TruncatesWhenCapped(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"q", "one two three four five"}}
	p := NewPipeline(newTestStore(), gen, 10, arbor.NewLogger())

	reply, err := p.Process(context.Background(), "hi")

	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(reply)), 10)
}

func TestProcess_ErrorsCarryStage(t *testing.T) {
	boom := errors.New("backend down")
	for _, tc := range []struct {
		errAt int
		stage Stage
	}{
		{errAt: 1, stage: StageIntent},
		{errAt: 2, stage: StageRespond},
	} {
		gen := &scriptedGenerator{errAt: tc.errAt, err: boom}
		p := NewPipeline(newTestStore(), gen, 0, arbor.NewLogger())

		_, err := p.Process(context.Background(), "hi")

		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, tc.stage, se.Stage)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, gen.prompts, tc.errAt, "no further calls after a failure")
	}
}

func TestIngest_MarkdownChunksAreStored(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ing := NewIngestor(chunker.NewParagraphChunker(500), store, arbor.NewLogger())
	ing.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	content := "# Office Guide\n\nOur office hours are 9 to 5.\n\n" + strings.Repeat("Parking is behind the building. ", 20)
	want := chunker.Split(content, 500)

	res, err := ing.Ingest(ctx, "guide.md", content)

	require.NoError(t, err)
	require.Len(t, res.IDs, len(want))
	idPattern := regexp.MustCompile(`^guide\.md_chunk_\d+$`)
	for n, id := range res.IDs {
		assert.Regexp(t, idPattern, id)
		assert.Equal(t, chunker.ChunkID("guide.md", n+1), id)
	}
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(want), count)

	out, err := store.Search(ctx, "office hours", vectorstore.SearchOptions{TopK: 10})
	require.NoError(t, err)
	nearest, ok := out.Nearest()
	require.True(t, ok)
	assert.Equal(t, "guide.md", nearest.Metadata["source_file"])
	assert.Equal(t, "Office Guide", nearest.Metadata["title"])
	assert.Equal(t, "2024-05-01T12:00:00Z", nearest.Metadata["uploaded_at"])
}

func TestIngest_Errors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ing := NewIngestor(chunker.NewParagraphChunker(500), store, arbor.NewLogger())

	_, err := ing.Ingest(ctx, " ", "text")
	assert.ErrorIs(t, err, ErrEmptyFilename)

	_, err = ing.Ingest(ctx, "a.txt", "first")
	require.NoError(t, err)
	res, err := ing.Ingest(ctx, "a.txt", "again")
	assert.ErrorIs(t, err, vectorstore.ErrDuplicateID)
	assert.Empty(t, res.IDs)

	res, err = ing.Ingest(ctx, "empty.txt", "")
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
}

func TestMarkdownTitle(t *testing.T) {
	assert.Equal(t, "Hello World", markdownTitle([]byte("intro\n\n## Sub\n\n# Hello *World*\n")))
	assert.Equal(t, "", markdownTitle([]byte("no headings here")))
}
