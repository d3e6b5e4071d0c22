package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

// Error is a non-2xx answer from the gateway service.
type Error struct {
	Status  int
	Message string
	RetryIn int
}

func (e *Error) Error() string {
	if e.Status == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited, retry in %ds", e.RetryIn)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrRateLimited && e.Status == http.StatusTooManyRequests
}

// Client calls a running gateway service.
type Client struct {
	base   string
	client *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP is used by tests to point at an httptest server.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), client: hc}
}

func (c *Client) Ask(ctx context.Context, in AIRequest) (AIResponse, error) {
	buf, err := json.Marshal(in)
	if err != nil {
		return AIResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/ai", bytes.NewReader(buf))
	if err != nil {
		return AIResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out AIResponse
	if err := c.do(req, &out); err != nil {
		return AIResponse{}, err
	}
	return out, nil
}

func (c *Client) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	endpoint := c.base + "/api/transcript?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out TranscriptResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Transcript, nil
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var eb ErrorBody
		_ = json.Unmarshal(body, &eb)
		msg := eb.Message
		if msg == "" {
			msg = fmt.Sprintf("Request failed (%d)", resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: msg, RetryIn: eb.RetryInSeconds}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// IsRateLimited reports whether err is a 429 from the gateway and, if so,
// how long to wait.
func IsRateLimited(err error) (int, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Status == http.StatusTooManyRequests {
		return gwErr.RetryIn, true
	}
	return 0, false
}
