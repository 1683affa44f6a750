package openai

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	domainllm "postsmith/app/internal/domain/llm"
)

type fakeChatService struct {
	response   *openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
	calls      int
}

var fakeBaseURL = "https://fake-llm-provider.ai/api/v1"

func (f *fakeChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls++
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func completionWith(content, finishReason, refusal string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		ID:      "gen-1",
		Created: time.Now().Unix(),
		Model:   "test-model",
		Object:  constant.ValueOf[constant.ChatCompletion](),
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: finishReason,
				Index:        0,
				Message: openai.ChatCompletionMessage{
					Content: content,
					Refusal: refusal,
					Role:    constant.ValueOf[constant.Assistant](),
				},
			},
		},
	}
}

func newFakeGenerator(t *testing.T, chat *fakeChatService) domainllm.TextGenerator {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := &Client{chat: chat, logger: logger, baseURL: fakeBaseURL}

	generator, err := NewTextGenerator(TextGeneratorOptions{Client: client, Model: "post-model"})
	if err != nil {
		t.Fatalf("NewTextGenerator returned error: %v", err)
	}
	return generator
}

func TestTextGeneratorReturnsCleanedContent(t *testing.T) {
	t.Parallel()

	chat := &fakeChatService{response: completionWith("  \"Hypothesis testing asks: is this signal or noise?\"  ", "stop", "")}
	generator := newFakeGenerator(t, chat)

	text, err := generator.GenerateText(context.Background(), "Define Hypothesis Testing.")
	if err != nil {
		t.Fatalf("GenerateText returned error: %v", err)
	}

	if text != "Hypothesis testing asks: is this signal or noise?" {
		t.Fatalf("unexpected text %q", text)
	}

	if chat.lastParams.Model != "post-model" {
		t.Fatalf("expected model post-model, got %s", chat.lastParams.Model)
	}

	if len(chat.lastParams.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(chat.lastParams.Messages))
	}

	if got := chat.lastParams.MaxTokens.Value; got != defaultMaxTokens {
		t.Fatalf("expected max tokens %d, got %d", defaultMaxTokens, got)
	}

	if got := chat.lastParams.Temperature.Value; got != defaultTemperature {
		t.Fatalf("expected temperature %.1f, got %.1f", defaultTemperature, got)
	}
}

func TestTextGeneratorMapsFailuresToProviderErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		chat   *fakeChatService
		reason string
	}{
		{name: "api error", chat: &fakeChatService{err: eris.New("api failure")}, reason: "request"},
		{name: "no choices", chat: &fakeChatService{response: &openai.ChatCompletion{}}, reason: "no_choices"},
		{name: "content filter", chat: &fakeChatService{response: completionWith("", "content_filter", "")}, reason: "content_filter"},
		{name: "refusal", chat: &fakeChatService{response: completionWith("", "stop", "I can't help with that")}, reason: "refusal"},
		{name: "empty", chat: &fakeChatService{response: completionWith("``` \n```", "stop", "")}, reason: "empty"},
	}

	for _, tc := range cases {
		generator := newFakeGenerator(t, tc.chat)

		_, err := generator.GenerateText(context.Background(), "prompt")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}

		var providerErr *domainllm.ProviderError
		if !errors.As(err, &providerErr) {
			t.Fatalf("%s: expected ProviderError, got %T", tc.name, err)
		}
		if providerErr.Reason != tc.reason {
			t.Fatalf("%s: expected reason %q, got %q", tc.name, tc.reason, providerErr.Reason)
		}
	}
}

func TestTextGeneratorRejectsBlankPrompt(t *testing.T) {
	t.Parallel()

	chat := &fakeChatService{}
	generator := newFakeGenerator(t, chat)

	if _, err := generator.GenerateText(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank prompt")
	}
	if chat.calls != 0 {
		t.Fatalf("expected no provider call for blank prompt, got %d", chat.calls)
	}
}

func TestNewTextGeneratorValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewTextGenerator(TextGeneratorOptions{Model: "model"}); err == nil {
		t.Fatalf("expected error when client is nil")
	}

	client := &Client{chat: &fakeChatService{}, baseURL: fakeBaseURL}
	if _, err := NewTextGenerator(TextGeneratorOptions{Client: client}); err == nil {
		t.Fatalf("expected error when model is empty")
	}
}

func TestTextGeneratorLive(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		t.Logf("%v", eris.Wrap(err, "loading .env file"))
	}

	if os.Getenv("LLM_LIVE_TEST") != "1" {
		t.Skip("live generator test disabled; set LLM_LIVE_TEST=1 to enable")
	}

	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		t.Skip("LLM_API_KEY is required for the live generator test")
	}

	model := strings.Trim(strings.TrimSpace(os.Getenv("LLM_LIVE_MODEL")), "\"'")
	if model == "" {
		t.Skip("LLM_LIVE_MODEL is required for the live generator test")
	}

	client, err := NewClient(ClientOptions{APIKey: apiKey, BaseURL: os.Getenv("LLM_ENDPOINT"), Logger: logger})
	if err != nil {
		t.Fatalf("failed to build live client: %v", err)
	}

	generator, err := NewTextGenerator(TextGeneratorOptions{Client: client, Model: model})
	if err != nil {
		t.Fatalf("failed to create live generator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	text, err := generator.GenerateText(ctx, "Give a useful tip for someone learning how to use Hypothesis Testing in data analysis.")
	if err != nil {
		t.Fatalf("live generator call failed: %v", err)
	}

	t.Logf("LLM model %q responded in %s (%d characters)", model, time.Since(start), len([]rune(text)))
	t.Logf("Post: %s", text)
}
