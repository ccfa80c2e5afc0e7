package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"smsrag/internal/httpclient"
)

// AnthropicConfig configures the Claude backend.
type AnthropicConfig struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AnthropicGenerator is a hosted backend built on the Anthropic Messages API.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	logger      arbor.ILogger
}

func NewAnthropicGenerator(cfg AnthropicConfig, logger arbor.ILogger) (*AnthropicGenerator, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpclient.NewDefaultHTTPClient(timeout)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Debug().
		Str("model", cfg.Model).
		Int("max_tokens", cfg.MaxTokens).
		Dur("timeout", timeout).
		Msg("Anthropic generator initialized")

	return &AnthropicGenerator{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(withSMSInstruction(prompt))),
		},
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Temperature: anthropic.Float(g.temperature),
	}

	start := time.Now()
	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", &Error{Backend: g.Name(), Kind: KindTransport, Err: err}
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return "", &Error{Backend: g.Name(), Kind: KindMalformed, Err: errors.New("no text content in message")}
	}

	g.logger.Debug().
		Str("model", g.model).
		Int("response_length", response.Len()).
		Dur("duration", time.Since(start)).
		Msg("Anthropic message finished")
	return finish(response.String()), nil
}
