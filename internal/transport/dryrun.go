package transport

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// DryRun is a deterministic Transport that never performs I/O. The same
// request always produces the same response bytes, so two dry runs over the
// same input file are byte-identical.
type DryRun struct{}

// NewDryRun creates the dry-run transport.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Execute derives a stable response purely from the request contents.
func (d *DryRun) Execute(_ context.Context, req Request) (*Response, error) {
	h := fnv.New64a()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))

	promptTokens := len(strings.Fields(req.Prompt))
	completionTokens := promptTokens/2 + 1

	return &Response{
		ID:      req.ID,
		Content: fmt.Sprintf("[dry-run %016x] model=%s prompt_chars=%d", h.Sum64(), req.Model, len(req.Prompt)),
		Model:   req.Model,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		DryRun: true,
	}, nil
}

// ExecuteBatch executes requests in order. Never fails.
func (d *DryRun) ExecuteBatch(ctx context.Context, reqs []Request, _ string) ([]*Response, error) {
	responses := make([]*Response, 0, len(reqs))
	for _, req := range reqs {
		resp, _ := d.Execute(ctx, req)
		responses = append(responses, resp)
	}
	return responses, nil
}
