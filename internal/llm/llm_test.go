package llm

import (
	"context"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/config"
)

type blockingClient struct{}

func (blockingClient) Chat(ctx context.Context, _ []Message, _ Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type deadlineRecorder struct {
	hadDeadline bool
}

func (d *deadlineRecorder) Chat(ctx context.Context, _ []Message, _ Options) (string, error) {
	_, d.hadDeadline = ctx.Deadline()
	return "ok", nil
}

func TestWithTimeoutMapsDeadlineToModelError(t *testing.T) {
	client := WithTimeout(blockingClient{}, 10*time.Millisecond)
	_, err := client.Chat(context.Background(), nil, Options{})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindModel || appErr.Code != "LLM_TIMEOUT" {
		t.Fatalf("Chat() error = %v", err)
	}
}

func TestWithTimeoutSetsDeadline(t *testing.T) {
	recorder := &deadlineRecorder{}
	if _, err := WithTimeout(recorder, time.Minute).Chat(context.Background(), nil, Options{}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !recorder.hadDeadline {
		t.Fatal("expected a deadline on the call context")
	}
	if got := WithTimeout(recorder, 0); got != Client(recorder) {
		t.Fatal("zero timeout should return the client unchanged")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	client, err := New(config.AIConfig{Provider: config.ProviderGemini, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New(gemini) error = %v", err)
	}
	if _, ok := client.(*timeoutClient).next.(*Gemini); !ok {
		t.Fatalf("client = %T", client)
	}

	client, err = New(config.AIConfig{Provider: config.ProviderOpenAI})
	if err != nil {
		t.Fatalf("New(openai) error = %v", err)
	}
	if _, ok := client.(*OpenAI); !ok {
		t.Fatalf("client = %T", client)
	}

	if _, err := New(config.AIConfig{Provider: "claude"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
