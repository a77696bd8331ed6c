// Package nl2sql turns a question into a single read-only statement through
// the language model, and turns a rejected statement into a corrected one.
package nl2sql

import (
	"context"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
)

type Request struct {
	PromptInput
	// Model overrides the configured generation model when set.
	Model string
}

type Result struct {
	SQL   string
	Raw   string
	Model string
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Translator struct {
	client llm.Client
	opts   Options
}

func NewTranslator(client llm.Client, opts Options) *Translator {
	return &Translator{client: client, opts: opts}
}

func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	messages, err := BuildPrompt(req.PromptInput)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "PROMPT_BUILD_FAILED", err)
	}
	return t.complete(ctx, observability.ModelPurposeGenerate, messages, req.Model)
}

// Correct asks for a fixed statement. Only the failure is sent, not the
// conversation.
func (t *Translator) Correct(ctx context.Context, c Correction, model string) (Result, error) {
	return t.complete(ctx, observability.ModelPurposeCorrect, BuildCorrectionPrompt(c), model)
}

func (t *Translator) complete(ctx context.Context, purpose string, messages []llm.Message, model string) (Result, error) {
	opts := llm.Options{Model: t.opts.Model, Temperature: t.opts.Temperature, MaxTokens: t.opts.MaxTokens}
	if override := strings.TrimSpace(model); override != "" {
		opts.Model = override
	}

	start := time.Now()
	raw, err := t.client.Chat(ctx, messages, opts)
	observability.ObserveModelCall(purpose, err, time.Since(start))
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.KindModel, "LLM_REQUEST_FAILED", err)
	}
	return Result{SQL: Extract(raw), Raw: raw, Model: opts.Model}, nil
}
