package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"smsrag/internal/domain"
)

// ErrEmptyFilename is returned by Ingest when no source name is given.
var ErrEmptyFilename = errors.New("filename is required")

// Ingestor splits uploaded documents into chunks and stores every chunk as
// its own document.
type Ingestor struct {
	chunker domain.Chunker
	store   DocumentStore
	now     func() time.Time
	logger  arbor.ILogger
}

func NewIngestor(chunker domain.Chunker, store DocumentStore, logger arbor.ILogger) *Ingestor {
	return &Ingestor{chunker: chunker, store: store, now: time.Now, logger: logger}
}

// IngestResult lists the ids stored for one source, in chunk order.
type IngestResult struct {
	Filename string
	IDs      []string
}

// Ingest chunks content and stores chunk n as "<filename>_chunk_<n>" with
// source_file, chunk_index and uploaded_at metadata. Markdown sources also
// carry their first level-one heading as title. On failure the ids stored
// before the failing chunk are returned with the error.
func (i *Ingestor) Ingest(ctx context.Context, filename, content string) (IngestResult, error) {
	result := IngestResult{Filename: filename}
	if strings.TrimSpace(filename) == "" {
		return result, ErrEmptyFilename
	}

	chunks, err := i.chunker.Chunk(domain.Document{ID: filename, Content: content})
	if err != nil {
		return result, fmt.Errorf("chunk %s: %w", filename, err)
	}

	uploadedAt := i.now().UTC().Format(time.RFC3339)
	title := ""
	if isMarkdown(filename) {
		title = markdownTitle([]byte(content))
	}

	for _, ch := range chunks {
		metadata := map[string]any{
			"source_file": filename,
			"chunk_index": ch.Index,
			"uploaded_at": uploadedAt,
		}
		if title != "" {
			metadata["title"] = title
		}
		if err := i.store.Add(ctx, ch.ChunkID, ch.Text, metadata); err != nil {
			return result, fmt.Errorf("store %s: %w", ch.ChunkID, err)
		}
		result.IDs = append(result.IDs, ch.ChunkID)
	}

	i.logger.Info().
		Str("source_file", filename).
		Int("chunks", len(result.IDs)).
		Msg("Document ingested")
	return result, nil
}

func isMarkdown(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// markdownTitle returns the text of the first level-one heading, or "".
func markdownTitle(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			title = strings.TrimSpace(string(h.Text(source)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}
