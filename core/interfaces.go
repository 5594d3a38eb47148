package core

import (
	"context"
)

// Logger interface - minimal structured logging interface shared by every
// module. Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Telemetry interface - optional telemetry support.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// LLMClient is the language-model collaborator. Implementations live
// outside this repository; tests use MockLLM.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts *GenerateOptions) (*GenerateResult, error)
}

// GenerateOptions for LLM generation.
type GenerateOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// GenerateResult from an LLM client.
type GenerateResult struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage for LLM responses.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
