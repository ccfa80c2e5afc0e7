package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RequestTimeoutSecs bounds a single request; 0 means no deadline.
	RequestTimeoutSecs  int `yaml:"request_timeout_secs"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs"`
}

// LoggingConfig configures the arbor logger.
type LoggingConfig struct {
	Level  string   `yaml:"level"`
	Output []string `yaml:"output"`
	File   string   `yaml:"file"`
}

// OllamaEmbedderConfig holds configuration for the HTTP embedding endpoint.
type OllamaEmbedderConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffSecs int    `yaml:"backoff_secs"`
}

// HashingEmbedderConfig configures the offline feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                `yaml:"type"`
	Ollama  OllamaEmbedderConfig  `yaml:"ollama"`
	Hashing HashingEmbedderConfig `yaml:"hashing"`
}

type LocalGeneratorConfig struct {
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type OpenAIGeneratorConfig struct {
	URL         string  `yaml:"url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type AnthropicGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type GeminiGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type ExtractiveGeneratorConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// GeneratorConfig selects the generation backend.
type GeneratorConfig struct {
	Type string `yaml:"type"`
	// MaxReplyChars hard-caps replies when > 0.
	MaxReplyChars int                       `yaml:"max_reply_chars"`
	Local         LocalGeneratorConfig      `yaml:"local"`
	OpenAI        OpenAIGeneratorConfig     `yaml:"openai"`
	Anthropic     AnthropicGeneratorConfig  `yaml:"anthropic"`
	Gemini        GeminiGeneratorConfig     `yaml:"gemini"`
	Extractive    ExtractiveGeneratorConfig `yaml:"extractive"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	MaxChunkSize      int    `yaml:"max_chunk_size"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// SQLiteConfig locates the durable store.
type SQLiteConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type              string       `yaml:"type"`
	TopK              int          `yaml:"top_k"`
	DistanceThreshold float64      `yaml:"distance_threshold"`
	Dimension         int          `yaml:"dimension"`
	SQLite            SQLiteConfig `yaml:"sqlite"`
	Qdrant            QdrantConfig `yaml:"qdrant"`
}

// TelnyxConfig holds the outbound SMS account.
type TelnyxConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	From      string `yaml:"from"`
	ProfileID string `yaml:"profile_id"`
	// TimeoutSecs bounds one send; 0 uses the HTTP client default.
	TimeoutSecs int `yaml:"timeout_secs"`
}

// MessagingConfig configures outbound SMS.
type MessagingConfig struct {
	// Provider is "telnyx" or "log". Empty picks telnyx when an API key is set.
	Provider      string       `yaml:"provider"`
	RatePerSecond float64      `yaml:"rate_per_second"`
	Telnyx        TelnyxConfig `yaml:"telnyx"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Messaging   MessagingConfig   `yaml:"messaging"`
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/smsrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/smsrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "smsrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if len(cfg.Logging.Output) == 0 {
		cfg.Logging.Output = []string{"console"}
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join("logs", "smsrag.log")
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "ollama"
	}
	if cfg.Embedder.Ollama.URL == "" {
		cfg.Embedder.Ollama.URL = "http://localhost:11434/api/embeddings"
	}
	if cfg.Embedder.Ollama.Model == "" {
		cfg.Embedder.Ollama.Model = "mxbai-embed-large"
	}
	if cfg.Embedder.Ollama.TimeoutSecs == 0 {
		cfg.Embedder.Ollama.TimeoutSecs = 30
	}
	if cfg.Embedder.Ollama.MaxAttempts == 0 {
		cfg.Embedder.Ollama.MaxAttempts = 3
	}
	if cfg.Embedder.Ollama.BackoffSecs == 0 {
		cfg.Embedder.Ollama.BackoffSecs = 2
	}
	if cfg.Embedder.Hashing.Dimension == 0 {
		cfg.Embedder.Hashing.Dimension = 256
	}

	g := &cfg.Generator
	if g.Type == "" {
		g.Type = "local"
	}
	if g.Local.URL == "" {
		g.Local.URL = "http://localhost:11434/api/generate"
	}
	if g.Local.Model == "" {
		g.Local.Model = "deepseek-r1:7b"
	}
	if g.Local.TimeoutSecs == 0 {
		g.Local.TimeoutSecs = 120
	}
	if g.OpenAI.URL == "" {
		g.OpenAI.URL = "https://api.openai.com/v1/chat/completions"
	}
	if g.OpenAI.APIKeyEnv == "" {
		g.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if g.OpenAI.Model == "" {
		g.OpenAI.Model = "gpt-4"
	}
	if g.OpenAI.Temperature == 0 {
		g.OpenAI.Temperature = 0.7
	}
	if g.OpenAI.TimeoutSecs == 0 {
		g.OpenAI.TimeoutSecs = 60
	}
	if g.Anthropic.APIKeyEnv == "" {
		g.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if g.Anthropic.Model == "" {
		g.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if g.Anthropic.Temperature == 0 {
		g.Anthropic.Temperature = 0.7
	}
	if g.Anthropic.MaxTokens == 0 {
		g.Anthropic.MaxTokens = 256
	}
	if g.Anthropic.TimeoutSecs == 0 {
		g.Anthropic.TimeoutSecs = 60
	}
	if g.Gemini.APIKeyEnv == "" {
		g.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if g.Gemini.Model == "" {
		g.Gemini.Model = "gemini-2.5-flash"
	}
	if g.Gemini.Temperature == 0 {
		g.Gemini.Temperature = 0.7
	}
	if g.Gemini.TimeoutSecs == 0 {
		g.Gemini.TimeoutSecs = 60
	}
	if g.Extractive.MaxSentences == 0 {
		g.Extractive.MaxSentences = 2
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "paragraph"
	}
	if cfg.Chunker.MaxChunkSize == 0 {
		cfg.Chunker.MaxChunkSize = 500
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = "sqlite"
	}
	if vs.TopK == 0 {
		vs.TopK = 5
	}
	if vs.DistanceThreshold == 0 {
		vs.DistanceThreshold = 150.0
	}
	if vs.SQLite.Path == "" {
		vs.SQLite.Path = "smsrag.db"
	}
	if vs.SQLite.Collection == "" {
		vs.SQLite.Collection = "documents"
	}
	if vs.Qdrant.URL == "" {
		vs.Qdrant.URL = "http://localhost:6333"
	}
	if vs.Qdrant.Collection == "" {
		vs.Qdrant.Collection = "documents"
	}
	if vs.Qdrant.TimeoutSecs == 0 {
		vs.Qdrant.TimeoutSecs = 15
	}

	if cfg.Messaging.RatePerSecond == 0 {
		cfg.Messaging.RatePerSecond = 1
	}
	if cfg.Messaging.Telnyx.URL == "" {
		cfg.Messaging.Telnyx.URL = "https://api.telnyx.com/v2/messages"
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the deployment environment variables onto cfg.
// Hosted generator API keys are read by the generators themselves through
// their api_key_env settings.
func ApplyEnv(cfg *AppConfig, lookup LookupFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("EMBEDDING_API_URL"); ok && v != "" {
		cfg.Embedder.Type = "ollama"
		cfg.Embedder.Ollama.URL = v
	}
	if v, ok := lookup("LLM_API_URL"); ok && v != "" {
		cfg.Generator.Local.URL = v
	}
	if v, ok := lookup("USE_OPENAI"); ok {
		if use, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil && use {
			cfg.Generator.Type = "openai"
		}
	}
	if v, ok := lookup("TELNYX_API_KEY"); ok && v != "" {
		cfg.Messaging.Telnyx.APIKey = v
	}
	if v, ok := lookup("TELNYX_FROM"); ok && v != "" {
		cfg.Messaging.Telnyx.From = v
	}
	if v, ok := lookup("TELNYX_PROFILE_ID"); ok && v != "" {
		cfg.Messaging.Telnyx.ProfileID = v
	}
	if v, ok := lookup("SMSRAG_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

// Validate checks the enum fields and numeric ranges.
func (c *AppConfig) Validate() error {
	errs := []error{
		oneOf("embedder.type", c.Embedder.Type, "ollama", "hashing"),
		oneOf("generator.type", c.Generator.Type, "local", "openai", "anthropic", "gemini", "extractive"),
		oneOf("chunker.type", c.Chunker.Type, "paragraph", "sentence"),
		oneOf("vector_store.type", c.VectorStore.Type, "memory", "sqlite", "qdrant"),
	}
	if c.Messaging.Provider != "" {
		errs = append(errs, oneOf("messaging.provider", c.Messaging.Provider, "telnyx", "log"))
	}
	if c.VectorStore.TopK < 0 {
		errs = append(errs, fmt.Errorf("vector_store.top_k: must not be negative"))
	}
	if c.VectorStore.DistanceThreshold < 0 {
		errs = append(errs, fmt.Errorf("vector_store.distance_threshold: must not be negative"))
	}
	if c.Generator.MaxReplyChars < 0 {
		errs = append(errs, fmt.Errorf("generator.max_reply_chars: must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}
