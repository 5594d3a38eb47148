package tools

import (
	"context"
	"fmt"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/registry"
)

// TextGenerate wraps the LLM collaborator as a registered tool for
// generate tasks.
type TextGenerate struct {
	llm   core.LLMClient
	model string
}

// NewTextGenerate creates the generation tool.
func NewTextGenerate(llm core.LLMClient, model string) *TextGenerate {
	return &TextGenerate{llm: llm, model: model}
}

func (t *TextGenerate) Name() string    { return "text_generate" }
func (t *TextGenerate) Version() string { return "1.0.0" }

func (t *TextGenerate) Parameters() []registry.ParameterSpec {
	return []registry.ParameterSpec{
		{Name: "prompt", Type: "string", Required: true},
		{Name: "temperature", Type: "float", Default: 0.7},
		{Name: "max_tokens", Type: "int"},
	}
}

func (t *TextGenerate) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if t.llm == nil {
		return nil, fmt.Errorf("%w: no LLM client configured", core.ErrMissingConfiguration)
	}
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("%w: text_generate requires prompt", core.ErrInvalidTask)
	}

	opts := &core.GenerateOptions{Model: t.model, Temperature: 0.7}
	if v, ok := params["temperature"].(float64); ok {
		opts.Temperature = v
	}
	switch v := params["max_tokens"].(type) {
	case int:
		opts.MaxTokens = v
	case float64:
		opts.MaxTokens = int(v)
	}

	res, err := t.llm.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"text":   res.Content,
		"model":  res.Model,
		"tokens": res.Usage.TotalTokens,
	}, nil
}
