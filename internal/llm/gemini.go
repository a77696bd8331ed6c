package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini calls the generateContent REST endpoint directly.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type geminiStatusError struct {
	status  int
	message string
}

func (e *geminiStatusError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.status, e.message)
}

func NewGemini(cfg GeminiConfig) *Gemini {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Gemini{apiKey: strings.TrimSpace(cfg.APIKey), baseURL: baseURL, client: client}
}

// Chat retries once with the "-latest" alias when the named model is unknown.
func (g *Gemini) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if g.apiKey == "" {
		return "", apperr.New(apperr.KindModel, "GEMINI_API_KEY_MISSING", "missing Gemini API key")
	}

	body, err := json.Marshal(geminiRequest{
		Contents: geminiContents(messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	text, err := g.generate(ctx, opts.Model, body)
	var statusErr *geminiStatusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound && !strings.HasSuffix(opts.Model, "-latest") {
		text, err = g.generate(ctx, opts.Model+"-latest", body)
	}
	if err == nil {
		return text, nil
	}
	if errors.As(err, &statusErr) {
		return "", modelError("LLM_API_ERROR", err)
	}
	if _, ok := apperr.As(err); ok {
		return "", err
	}
	return "", modelError("LLM_REQUEST_FAILED", err)
}

func (g *Gemini) generate(ctx context.Context, model string, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send gemini request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var errBody geminiErrorBody
		message := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &errBody) == nil && errBody.Error.Message != "" {
			message = errBody.Error.Message
		}
		return "", &geminiStatusError{status: resp.StatusCode, message: message}
	}

	var decoded geminiResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", apperr.Wrap(apperr.KindModel, "LLM_RESPONSE_PARSE_ERROR", err)
	}
	if len(decoded.Candidates) == 0 {
		return "", apperr.New(apperr.KindModel, "LLM_EMPTY_RESPONSE", "no candidates in model response")
	}
	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

// geminiContents folds system turns into user turns, renames assistant to
// model and merges consecutive turns that end up with the same role.
func geminiContents(messages []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		last := len(contents) - 1
		if last >= 0 && contents[last].Role == role {
			contents[last].Parts = append(contents[last].Parts, geminiPart{Text: msg.Content})
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	return contents
}
