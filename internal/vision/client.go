// Package vision reads identity documents through an OpenAI-compatible chat
// completions endpoint and turns the reply into a guest record.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/filler"
	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/wait"
)

const (
	defaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 1500
	maxAttempts      = 3
	retryBackoff     = 2 * time.Second
)

// Config holds the extraction API settings
type Config struct {
	Endpoint  string
	Model     string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls the extraction API
type Client struct {
	config     Config
	httpClient *http.Client
	clock      wait.Clock
	log        *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the clock used between retries.
func WithClock(clock wait.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a new extraction client
func NewClient(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      wait.RealClock{},
		log:        log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage is the token accounting the API reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Result is a parsed extraction plus the tokens it cost.
type Result struct {
	guest.Extraction
	Usage *Usage `json:"usage,omitempty"`
}

// ExtractDocument reads a single photographed document. image is a data URL
// or bare base64.
func (c *Client) ExtractDocument(ctx context.Context, image string) (Result, error) {
	img, err := filler.DecodeImage(image)
	if err != nil {
		return Result{}, fmt.Errorf("invalid document image: %w", err)
	}
	return c.extract(ctx, documentPrompt, img)
}

// ExtractTwoSided reads both sides of a national ID card. A reply whose
// validation block rejects the pair fails with a blocking error carrying the
// API's explanation.
func (c *Client) ExtractTwoSided(ctx context.Context, front, back string) (Result, error) {
	f, err := filler.DecodeImage(front)
	if err != nil {
		return Result{}, fmt.Errorf("invalid front image: %w", err)
	}
	b, err := filler.DecodeImage(back)
	if err != nil {
		return Result{}, fmt.Errorf("invalid back image: %w", err)
	}
	res, err := c.extract(ctx, twoSidedPrompt, f, b)
	if err != nil {
		return Result{}, err
	}
	if res.Validation == nil {
		return Result{}, guest.UpstreamInvalid("the reply did not say whether both sides were found")
	}
	if err := res.Check(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Client) extract(ctx context.Context, prompt string, images ...filler.Image) (Result, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: img.DataURL(), Detail: "high"},
		})
	}
	body, err := json.Marshal(chatRequest{
		Model:     c.config.Model,
		Messages:  []message{{Role: "user", Content: parts}},
		MaxTokens: c.config.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.send(ctx, body)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("extraction reply has no choices")
	}

	content := StripFences(resp.Choices[0].Message.Content)
	ext, err := guest.ParseExtraction([]byte(content))
	if err != nil {
		c.log.Debug("unparseable extraction", zap.String("content", content))
		return Result{}, fmt.Errorf("could not parse the extraction reply: %w", err)
	}
	if resp.Usage != nil {
		c.log.Info("document extracted", zap.Int("tokens", resp.Usage.TotalTokens))
	}
	return Result{Extraction: ext, Usage: resp.Usage}, nil
}

// send posts body, retrying rate limits and server errors.
func (c *Client) send(ctx context.Context, body []byte) (*chatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.clock.Sleep(ctx, time.Duration(attempt-1)*retryBackoff); err != nil {
				return nil, err
			}
		}

		resp, retry, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		c.log.Warn("extraction request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (*chatResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("extraction API returned status %d: %s", resp.StatusCode, errorMessage(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, false, nil
}

// errorMessage pulls error.message out of an API error body, falling back to
// the raw body.
func errorMessage(data []byte) string {
	var e apiError
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// StripFences removes a markdown code fence wrapped around a reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
