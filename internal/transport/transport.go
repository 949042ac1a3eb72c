// Package transport executes single tasks or batches against a remote
// completions endpoint. The live client talks HTTP; the dry-run client is
// deterministic and performs no I/O.
package transport

import "context"

// Request is one unit of work to submit to the model endpoint.
type Request struct {
	ID          string  `json:"id"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Usage reports token accounting as the endpoint returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of executing a Request.
type Response struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// Transport executes requests against a model endpoint. Errors must be
// classifiable (errkind), never opaque.
type Transport interface {
	Execute(ctx context.Context, req Request) (*Response, error)
	ExecuteBatch(ctx context.Context, reqs []Request, batchID string) ([]*Response, error)
}
