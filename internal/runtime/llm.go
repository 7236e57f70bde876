package runtime

import (
	"context"
	"fmt"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// classify calls the LLM with the engine's retry and timeout policy.
// An error after the final attempt tells the caller to route
// deterministically instead.
func (e *Engine) classify(ctx context.Context, req ports.ClassifyRequest) (ports.Classification, error) {
	var last error
	for attempt := 0; attempt <= e.llmRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		cls, err := e.llm.Classify(cctx, req)
		cancel()
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall("classify", attempt, err)
		}
		if err == nil {
			return cls, nil
		}
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return ports.Classification{}, fmt.Errorf("classify after %d attempts: %w", e.llmRetries+1, last)
}

// extract interprets free-form text as an answer for the given node.
func (e *Engine) extract(ctx context.Context, node *flow.Node, text string) (ports.Extraction, error) {
	req := ports.ExtractRequest{
		Prompt:        node.Prompt,
		UserText:      text,
		Key:           node.Key,
		DataType:      node.DataType,
		AllowedValues: node.AllowedValues,
	}
	var last error
	for attempt := 0; attempt <= e.llmRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		ext, err := e.llm.ExtractAnswer(cctx, req)
		cancel()
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall("extract", attempt, err)
		}
		if err == nil {
			return ext, nil
		}
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return ports.Extraction{}, fmt.Errorf("extract after %d attempts: %w", e.llmRetries+1, last)
}
