// Package service runs the SMS question answering pipeline and the
// document ingestion and search operations around it.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"smsrag/internal/domain"
	"smsrag/internal/sms"
	"smsrag/internal/vectorstore"
)

// DocumentStore is the part of the vector store the service depends on.
type DocumentStore interface {
	Add(ctx context.Context, id, content string, metadata map[string]any) error
	Search(ctx context.Context, query string, opts vectorstore.SearchOptions) (domain.QueryOutcome, error)
	Delete(ctx context.Context, id string) error
}

// Stage names a step of Process. It appears in wrapped errors and logs.
type Stage string

const (
	StageIntent   Stage = "infer intent"
	StageRetrieve Stage = "retrieve"
	StageRespond  Stage = "respond"
)

// StageError reports which pipeline step failed. The underlying error is
// unchanged and reachable through errors.Is and errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline answers inbound messages in two generation rounds: the first
// turns the message into a search query, the second phrases the reply
// from the nearest stored document.
type Pipeline struct {
	store         DocumentStore
	generator     domain.Generator
	maxReplyChars int
	logger        arbor.ILogger
}

// NewPipeline wires a pipeline. maxReplyChars > 0 hard-caps replies at a
// word boundary; 0 leaves the length to the prompt instruction.
func NewPipeline(store DocumentStore, generator domain.Generator, maxReplyChars int, logger arbor.ILogger) *Pipeline {
	return &Pipeline{store: store, generator: generator, maxReplyChars: maxReplyChars, logger: logger}
}

func intentPrompt(message string) string {
	return "The user has asked a question via SMS. Here is their message:\n" +
		message +
		"\n\nUsing plain text, explain what data or intent they are searching for so I can query a database."
}

func noEvidencePrompt(message string) string {
	return fmt.Sprintf("The user searched for something related to: %s. No matching data found in the database. Respond politely.", message)
}

func answerPrompt(message, document string) string {
	return fmt.Sprintf("The user searched for: %s.\n"+
		"The database retrieved a matching result: %s.\n"+
		"Write a response to convey the results, keeping your response less than 160 characters in length and using no special formatting. Plain text only.",
		message, document)
}

func summaryPrompt(query, combined string) string {
	return "The following text is an excerpt from multiple documents related to the query:\n'" +
		query + "'\nPlease summarize this information in a concise and user-friendly way:\n" + combined
}

// Process produces the reply to one inbound message. Any failure aborts the
// whole request and is returned as a *StageError.
func (p *Pipeline) Process(ctx context.Context, message string) (string, error) {
	start := time.Now()

	query, err := p.generator.Generate(ctx, intentPrompt(message))
	if err != nil {
		return "", &StageError{Stage: StageIntent, Err: err}
	}
	p.logger.Debug().Str("inferred_query", query).Msg("Intent inferred")

	outcome, err := p.store.Search(ctx, query, vectorstore.SearchOptions{})
	if err != nil {
		return "", &StageError{Stage: StageRetrieve, Err: err}
	}

	prompt := noEvidencePrompt(message)
	if nearest, ok := outcome.Nearest(); ok {
		p.logger.Debug().Str("doc_id", nearest.ID).Int("hits", len(outcome.Hits)).Msg("Evidence retrieved")
		prompt = answerPrompt(message, nearest.Content)
	} else {
		p.logger.Debug().Msg("No evidence within threshold")
	}

	reply, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return "", &StageError{Stage: StageRespond, Err: err}
	}
	if p.maxReplyChars > 0 {
		reply = sms.Truncate(reply, p.maxReplyChars)
	}

	p.logger.Info().
		Bool("evidence", !outcome.NoEvidence).
		Int("reply_length", len(reply)).
		Dur("elapsed", time.Since(start)).
		Msg("Message processed")
	return reply, nil
}

// SearchRequest is a search-only query. A zero TopK or a nil
// DistanceThreshold uses the store's defaults.
type SearchRequest struct {
	Query             string
	TopK              int
	DistanceThreshold *float64
	Summarize         bool
}

// Search runs a relevance-filtered search and, when asked and there is
// evidence, summarizes the combined hits with the generator.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (domain.QueryOutcome, error) {
	outcome, err := p.store.Search(ctx, req.Query, vectorstore.SearchOptions{
		TopK:              req.TopK,
		DistanceThreshold: req.DistanceThreshold,
	})
	if err != nil {
		return domain.QueryOutcome{}, err
	}
	if !req.Summarize || outcome.NoEvidence {
		return outcome, nil
	}
	summary, err := p.generator.Generate(ctx, summaryPrompt(req.Query, outcome.CombinedEvidence))
	if err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	outcome.Summary = &summary
	return outcome, nil
}
