// Package llm provides the text generation used inside agents.
package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Generator produces text for a prompt under a system instruction.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, prompt, system string) (string, error)

func (f Func) Generate(ctx context.Context, prompt, system string) (string, error) {
	return f(ctx, prompt, system)
}

// Static always returns the same text.
type Static string

func (s Static) Generate(context.Context, string, string) (string, error) {
	return string(s), nil
}

const digestLen = 120

// Fallback wraps a generator so that a missing backend or a failed call
// yields a canned response instead of an error.
type Fallback struct {
	inner Generator
}

func NewFallback(inner Generator) *Fallback {
	return &Fallback{inner: inner}
}

func (f *Fallback) Generate(ctx context.Context, prompt, system string) (string, error) {
	if f.inner == nil {
		return MockResponse(prompt, fmt.Errorf("no text generation backend configured; using mock response")), nil
	}
	text, err := f.inner.Generate(ctx, prompt, system)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		slog.Warn("text generation failed, using mock response", "error", err)
		return MockResponse(prompt, err), nil
	}
	return text, nil
}

// MockResponse is the canned text returned when generation is unavailable.
func MockResponse(prompt string, cause error) string {
	digest := prompt
	if r := []rune(digest); len(r) > digestLen {
		digest = string(r[:digestLen])
	}
	return "[MOCKED LLM RESPONSE]\n" +
		"This is a fallback response due to a missing key or API error.\n" +
		"Prompt digest: " + digest + "...\n" +
		"Note: " + cause.Error()
}
