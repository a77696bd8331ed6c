// Package llm is the boundary to the language model: one chat operation with
// provider selection resolved once from configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// New builds the client for the configured provider. Every call made through
// it is bounded by cfg.Timeout.
func New(cfg config.AIConfig) (Client, error) {
	httpClient := &http.Client{}
	var client Client
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client = NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, HTTPClient: httpClient})
	case config.ProviderGemini:
		client = NewGemini(GeminiConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, HTTPClient: httpClient})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	return WithTimeout(client, cfg.Timeout), nil
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every Chat call. A non-positive timeout returns next as is.
func WithTimeout(next Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return next
	}
	return &timeoutClient{next: next, timeout: timeout}
}

func (c *timeoutClient) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	text, err := c.next.Chat(ctx, messages, opts)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && apperr.KindOf(err) != apperr.KindModel {
		return "", &apperr.Error{
			Kind:    apperr.KindModel,
			Code:    "LLM_TIMEOUT",
			Message: fmt.Sprintf("model call exceeded %s", c.timeout),
			Err:     err,
		}
	}
	return text, err
}

func modelError(code string, err error) *apperr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		code = "LLM_TIMEOUT"
	}
	return apperr.Wrap(apperr.KindModel, code, err)
}
