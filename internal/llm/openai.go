package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/askdb/askdb/internal/apperr"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI talks to any OpenAI compatible chat completion endpoint.
type OpenAI struct {
	client *openai.Client
	hasKey bool
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
	}
}

func (p *OpenAI) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if !p.hasKey {
		return "", apperr.New(apperr.KindModel, "OPENAI_API_KEY_MISSING", "missing OpenAI API key")
	}

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openAIRole(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindModel, "LLM_EMPTY_RESPONSE", "no choices in model response")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIRole(role Role) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := modelError("LLM_API_ERROR", err)
		out.Message = fmt.Sprintf("upstream status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		return out
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		out := modelError("LLM_API_ERROR", err)
		out.Message = fmt.Sprintf("upstream status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
		return out
	}
	return modelError("LLM_REQUEST_FAILED", err)
}
