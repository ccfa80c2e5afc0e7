package generation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"smsrag/internal/httpclient"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIConfig configures the hosted chat-completion backend.
type OpenAIConfig struct {
	URL         string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	logger      arbor.ILogger
}

func NewOpenAIGenerator(cfg OpenAIConfig, logger arbor.ILogger) (*OpenAIGenerator, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.URL == "" {
		cfg.URL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &OpenAIGenerator{
		url:         cfg.URL,
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      httpclient.NewDefaultHTTPClient(t),
		logger:      logger,
	}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: withSMSInstruction(prompt)},
		},
		Temperature: g.temperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + g.apiKey}

	start := time.Now()
	var out chatResponse
	if err := httpclient.PostJSON(ctx, g.client, g.url, headers, req, &out); err != nil {
		return "", newError(g.Name(), err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == nil {
		return "", malformed(g.Name(), g.url, "no choices[0].message.content in completion")
	}
	content := *out.Choices[0].Message.Content
	g.logger.Debug().
		Str("model", g.model).
		Int("response_length", len(content)).
		Dur("duration", time.Since(start)).
		Msg("Chat completion finished")
	return finish(content), nil
}
