// Package llm talks to an OpenAI-compatible chat-completions endpoint.
package llm

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
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 280

	defaultHTTPTimeout = 60 * time.Second
)

var ErrMissingAPIKey = errors.New("missing upstream API key")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string
}

type Option func(*Options)

func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

// APIError is a non-2xx answer from the upstream API. Message is the
// upstream error.message when one was sent.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error: %d %s", e.Status, e.Message)
}

// Config describes how to build a Client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a chat-completions client. The zero API key is allowed so the
// gateway can still start; Chat then fails with ErrMissingAPIKey.
type Client struct {
	apiKey   string
	base     string
	defaults Options
	client   *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	defaults := Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, Model: cfg.Model}
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	if defaults.MaxTokens <= 0 {
		defaults.MaxTokens = DefaultMaxTokens
	}
	if defaults.Temperature <= 0 {
		defaults.Temperature = DefaultTemperature
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		base:     base,
		defaults: defaults,
		client:   pickHTTPClient(cfg),
	}
}

func pickHTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) Model() string { return c.defaults.Model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends history and returns the first choice's content, which may be
// empty.
func (c *Client) Chat(ctx context.Context, history []Message, options ...Option) (string, error) {
	if !c.Configured() {
		return "", ErrMissingAPIKey
	}
	opts := c.defaults
	for _, opt := range options {
		opt(&opts)
	}

	buf, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    history,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/chat/completions", c.base)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upstream response: %w", err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if resp.StatusCode >= 400 {
		msg := ""
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode upstream response: %w", decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
