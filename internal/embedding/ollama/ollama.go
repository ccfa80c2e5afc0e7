package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"smsrag/internal/embedding"
	"smsrag/internal/httpclient"
	"smsrag/internal/retry"
)

// Client embeds text through an Ollama-style endpoint ({model, prompt} ->
// {embedding}). OpenAI-compatible responses ({data:[{embedding}]}) are
// accepted as well.
type Client struct {
	url       string
	apiKey    string
	model     string
	client    *http.Client
	policy    retry.Policy
	dimension atomic.Int64
	logger    arbor.ILogger
}

// Config configures the embedding client.
type Config struct {
	URL         string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config, logger arbor.ILogger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("embedding endpoint URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = "mxbai-embed-large"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = retry.DefaultBackoff
	}
	c := &Client{
		url:    cfg.URL,
		model:  cfg.Model,
		client: httpclient.NewDefaultHTTPClient(cfg.Timeout),
		logger: logger,
	}
	if cfg.APIKeyEnv != "" {
		c.apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	c.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		OnRetry: func(attempt int, err error) {
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", cfg.Backoff).
				Msg("Embedding request failed, retrying")
		},
	}
	return c, nil
}

// WithSleep replaces the backoff clock. It exists for tests.
func (c *Client) WithSleep(sleep retry.SleepFunc) *Client {
	c.policy.Sleep = sleep
	return c
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "ollama" }

// Dimension returns the dimensionality of the last embedding produced, or 0
// before the first call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Data      []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns an embedding vector for the given text. Every call goes to
// the endpoint; nothing is cached.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	body := embedRequest{Model: c.model, Prompt: text}

	vec, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]float32, error) {
		var out embedResponse
		if err := httpclient.PostJSON(ctx, c.client, c.url, headers, body, &out); err != nil {
			return nil, err
		}
		if len(out.Embedding) > 0 {
			return out.Embedding, nil
		}
		if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
			return out.Data[0].Embedding, nil
		}
		return nil, &retry.MalformedResponseError{URL: c.url, Reason: "no embedding found in response"}
	})
	if err != nil {
		return nil, &embedding.Error{Provider: c.Name(), Err: fmt.Errorf("model %s: %w", c.model, err)}
	}
	c.dimension.Store(int64(len(vec)))
	return vec, nil
}
