package generation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"smsrag/internal/httpclient"
)

// LocalConfig configures the local (Ollama-style) generation backend.
type LocalConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// LocalGenerator issues single-shot, non-streaming completions to a locally
// reachable model server.
type LocalGenerator struct {
	url    string
	model  string
	client *http.Client
	logger arbor.ILogger
}

func NewLocalGenerator(cfg LocalConfig, logger arbor.ILogger) (*LocalGenerator, error) {
	if cfg.URL == "" {
		return nil, errors.New("local generation endpoint URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-r1:7b"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &LocalGenerator{
		url:    cfg.URL,
		model:  cfg.Model,
		client: httpclient.NewDefaultHTTPClient(timeout),
		logger: logger,
	}, nil
}

func (g *LocalGenerator) Name() string { return "local" }

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type localResponse struct {
	Response *string `json:"response"`
}

func (g *LocalGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var out localResponse
	req := localRequest{Model: g.model, Prompt: prompt, Stream: false}
	if err := httpclient.PostJSON(ctx, g.client, g.url, nil, req, &out); err != nil {
		return "", newError(g.Name(), err)
	}
	if out.Response == nil {
		return "", malformed(g.Name(), g.url, "no response field in completion")
	}
	g.logger.Debug().
		Str("model", g.model).
		Int("response_length", len(*out.Response)).
		Dur("duration", time.Since(start)).
		Msg("Local completion finished")
	return finish(*out.Response), nil
}
