// Package completion talks to the backend REST API that finalizes lessons
// and conversations. The conversation transcript itself lives server-side;
// this client only flips completion state and fetches the resulting summary.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/linguakit/go-linguakit/internal/httpc"
	"github.com/linguakit/go-linguakit/pkg/auth"
)

// Summary is the backend's post-conversation report.
type Summary struct {
	ConversationID string   `json:"conversation_id"`
	Turns          int      `json:"turns"`
	MistakeCount   int      `json:"mistake_count"`
	Highlights     []string `json:"highlights,omitempty"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion: api error %d: %s", e.StatusCode, e.Message)
}

// Client calls the completion endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
	logger  *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// New creates a completion client against baseURL, e.g.
// "https://api.linguakit.io/v1".
func New(baseURL string, tokens auth.TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    httpc.NewClient(15 * time.Second),
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "completion")
	return c
}

// CompleteLesson marks a lesson progress record complete and returns the
// summary.
func (c *Client) CompleteLesson(ctx context.Context, progressID string) (*Summary, error) {
	if progressID == "" {
		return nil, fmt.Errorf("completion: progress id is required")
	}
	path := fmt.Sprintf("/lessons/progress/%s/complete", progressID)
	if err := c.post(ctx, path); err != nil {
		return nil, err
	}
	return c.summary(ctx, fmt.Sprintf("/lessons/progress/%s/summary", progressID))
}

// CompleteConversation marks a free conversation complete and returns the
// summary.
func (c *Client) CompleteConversation(ctx context.Context, conversationID string) (*Summary, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("completion: conversation id is required")
	}
	path := fmt.Sprintf("/conversations/%s/complete", conversationID)
	if err := c.post(ctx, path); err != nil {
		return nil, err
	}
	return c.summary(ctx, fmt.Sprintf("/conversations/%s/summary", conversationID))
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("completion: build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) summary(ctx context.Context, path string) (*Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("completion: build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("completion: decode summary: %w", err)
	}
	return &s, nil
}

// do attaches the bearer token, executes the request and converts non-2xx
// responses into APIError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.tokens != nil {
		tok, err := c.tokens.Token(req.Context())
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion: request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.logger.Error("api request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return resp, nil
}
