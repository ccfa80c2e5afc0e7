package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"smsrag/internal/domain"
)

// DefaultMaxChunkSize is the paragraph chunker's default size target, in characters.
const DefaultMaxChunkSize = 500

const paragraphSeparator = "\n\n"

// ParagraphChunker groups blank-line separated paragraphs into chunks of
// roughly maxChunkSize characters.
type ParagraphChunker struct {
	maxChunkSize int
}

func NewParagraphChunker(maxChunkSize int) *ParagraphChunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &ParagraphChunker{maxChunkSize: maxChunkSize}
}

// Chunk splits the document content and names every chunk
// "<document id>_chunk_<n>", counting from 1.
func (c *ParagraphChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	return toChunks(document.ID, Split(document.Content, c.maxChunkSize)), nil
}

// Split accumulates paragraphs greedily. The size check looks at the chunk
// built so far, before the next paragraph is added, so a chunk can overrun
// maxChunkSize by up to one paragraph. A paragraph longer than maxChunkSize
// on its own becomes its own chunk. Empty chunks are never returned.
func Split(content string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}
	for _, paragraph := range strings.Split(content, paragraphSeparator) {
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(paragraph) < maxChunkSize {
			current.WriteString(paragraph)
			current.WriteString(paragraphSeparator)
			continue
		}
		flush()
		current.WriteString(paragraph)
		current.WriteString(paragraphSeparator)
	}
	flush()
	return chunks
}

// ChunkID is the stored id of the n-th chunk (1-based) of a source.
func ChunkID(source string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", source, n)
}

func toChunks(documentID string, texts []string) []domain.Chunk {
	if len(texts) == 0 {
		return nil
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			DocumentID: documentID,
			ChunkID:    ChunkID(documentID, i+1),
			Text:       text,
			Index:      i + 1,
		}
	}
	return chunks
}
