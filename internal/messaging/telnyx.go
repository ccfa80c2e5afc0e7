// Package messaging delivers outbound SMS replies.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTelnyxURL is the Telnyx messaging endpoint.
	DefaultTelnyxURL = "https://api.telnyx.com/v2/messages"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultRateLimit is the default number of messages per second.
	DefaultRateLimit = 1
)

// TelnyxClient sends SMS through the Telnyx messaging API. A failed send is
// reported to the caller and never retried.
type TelnyxClient struct {
	url        string
	apiKey     string
	from       string
	profileID  string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// Option configures the TelnyxClient.
type Option func(*TelnyxClient)

// WithURL sets a custom endpoint.
func WithURL(url string) Option {
	return func(c *TelnyxClient) {
		c.url = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *TelnyxClient) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outbound messages per second. Values <= 0 are ignored.
func WithRateLimit(perSecond float64) Option {
	return func(c *TelnyxClient) {
		if perSecond <= 0 {
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewTelnyxClient creates a client sending from the given number with the
// given messaging profile.
func NewTelnyxClient(apiKey, from, profileID string, logger arbor.ILogger, opts ...Option) (*TelnyxClient, error) {
	if apiKey == "" {
		return nil, errors.New("telnyx: api key is required")
	}
	c := &TelnyxClient{
		url:        DefaultTelnyxURL,
		apiKey:     apiKey,
		from:       from,
		profileID:  profileID,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendError is a send the API did not accept.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send SMS: status %d: %s", e.StatusCode, e.Body)
}

type sendRequest struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id"`
}

func (c *TelnyxClient) Send(ctx context.Context, to, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(sendRequest{From: c.from, To: to, Text: text, MessagingProfileID: c.profileID})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &SendError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	c.logger.Debug().Str("to", to).Int("length", len(text)).Msg("SMS sent")
	return nil
}
