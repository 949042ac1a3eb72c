package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"promptplane/internal/errkind"
)

// Client is the live Transport over an OpenAI-style chat completions API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a live transport client. The API key is validated at
// call time so that dry runs never require a credential.
func NewClient(baseURL, apiKey string) *Client {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Execute sends one request to the completions endpoint.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	if c.APIKey == "" {
		return nil, errkind.New(errkind.Config, "missing API credential")
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "failed to marshal request", err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "failed to create request", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, errkind.Classify(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		apiErr := &errkind.Error{
			Kind:      errkind.FromStatus(resp.StatusCode),
			Message:   fmt.Sprintf("api returned status %d", resp.StatusCode),
			Retryable: errkind.RetryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", truncate(respBody, 512)),
		}
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errkind.Wrap(errkind.Upstream, "failed to parse response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errkind.New(errkind.Upstream, "response contained no choices")
	}

	return &Response{
		ID:      req.ID,
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
	}, nil
}

// ExecuteBatch executes requests in submission order. The batch ID is
// attached so the endpoint can correlate requests server-side.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []Request, batchID string) ([]*Response, error) {
	responses := make([]*Response, 0, len(reqs))
	for _, req := range reqs {
		resp, err := c.Execute(ctx, req)
		if err != nil {
			return responses, fmt.Errorf("batch %s task %s: %w", batchID, req.ID, err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
