// Package llm talks to OpenAI-compatible chat endpoints and Dify apps on behalf
// of the reply pipeline and the reachability probes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/replydesk/replydesk/internal/logging"
)

// ErrNotConfigured is returned when no key or model is set.
var ErrNotConfigured = errors.New("llm not configured")

// Connection identifies an endpoint and its credentials.
type Connection struct {
	BaseURL string
	APIKey  string
	Model   string
}

func (c Connection) configured() bool {
	return c.APIKey != "" && c.Model != ""
}

// Message is one chat turn.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// CompletionRequest is a single non-streaming completion.
type CompletionRequest struct {
	Connection
	Temperature float64
	TopP        float64
	Messages    []Message
}

// Client performs completions and probes. The zero value is usable.
type Client struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{Timeout: timeout, HTTPClient: &http.Client{Timeout: timeout}}
}

func (c *Client) openai(conn Connection) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(conn.APIKey),
		option.WithMaxRetries(0),
	}
	if conn.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(normalizeBaseURL(conn.BaseURL)))
	}
	if c.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.Timeout))
	}
	if c.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.HTTPClient))
	}
	return openai.NewClient(opts...)
}

// normalizeBaseURL makes sure the SDK joins paths under the base rather than replacing its last segment.
func normalizeBaseURL(u string) string {
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// Complete returns the assistant text for req.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if !req.configured() {
		return "", ErrNotConfigured
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	client := c.openai(req.Connection)
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	logging.Debugf("[llm] completion model=%s messages=%d chars=%d", req.Model, len(messages), len(content))
	return content, nil
}

// Probe checks that the endpoint answers an authenticated model listing.
func (c *Client) Probe(ctx context.Context, conn Connection) error {
	if conn.APIKey == "" {
		return ErrNotConfigured
	}
	client := c.openai(conn)
	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// ProbeDify checks a Dify app by fetching its parameters.
func (c *Client) ProbeDify(ctx context.Context, conn Connection) error {
	if conn.APIKey == "" || conn.BaseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(conn.BaseURL, "/")+"/parameters", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("dify parameters: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dify parameters: status %d", resp.StatusCode)
	}
	return nil
}
