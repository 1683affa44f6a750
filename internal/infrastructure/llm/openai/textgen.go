package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	domainllm "postsmith/app/internal/domain/llm"
)

// TextGeneratorOptions configures the chat-completion backed text generator.
type TextGeneratorOptions struct {
	Client       *Client
	Model        string
	Temperature  float64
	MaxTokens    int64
	SystemPrompt string
}

type textGenerator struct {
	client       *Client
	logger       *logrus.Logger
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
}

const (
	defaultSystemPrompt = `You write short, engaging social media posts for a data science audience.
Reply with the post text only: no preamble, no quotation marks, no markdown, no HTML.
Stay well under 280 characters.`
	defaultTemperature = 0.7
	defaultMaxTokens   = 100
)

var _ domainllm.TextGenerator = (*textGenerator)(nil)

// NewTextGenerator constructs a TextGenerator backed by chat completions.
func NewTextGenerator(opts TextGeneratorOptions) (domainllm.TextGenerator, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, eris.New("generator model is required")
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	systemPrompt := strings.TrimSpace(opts.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &textGenerator{
		client:       opts.Client,
		logger:       opts.Client.logger,
		model:        model,
		temperature:  temperature,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
	}, nil
}

func (g *textGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	trimmedPrompt := strings.TrimSpace(prompt)
	if trimmedPrompt == "" {
		return "", domainllm.NewProviderError("invalid_prompt", eris.New("prompt is required"))
	}

	fields := logrus.Fields{"model": g.model}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.systemPrompt),
			openai.UserMessage(trimmedPrompt),
		},
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(g.maxTokens),
	}

	completion, err := g.client.chat.New(ctx, params)
	if err != nil {
		g.logError(fields, err, "requesting chat completion")
		return "", domainllm.NewProviderError("request", eris.Wrap(err, "requesting chat completion"))
	}

	if completion == nil || len(completion.Choices) == 0 {
		err := eris.New("llm completion returned no choices")
		g.logError(fields, err, "processing chat completion")
		return "", domainllm.NewProviderError("no_choices", err)
	}

	choice := completion.Choices[0]
	if reason := strings.TrimSpace(choice.FinishReason); strings.EqualFold(reason, "content_filter") {
		err := eris.New("llm blocked the request via content filter")
		g.logError(fields, err, "generator blocked")
		return "", domainllm.NewProviderError("content_filter", err)
	}

	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		err := eris.Errorf("llm refused to generate content: %s", refusal)
		g.logError(fields, err, "generator refused")
		return "", domainllm.NewProviderError("refusal", err)
	}

	text := cleanGeneratedText(choice.Message.Content)
	if text == "" {
		err := eris.New("llm response content is empty")
		g.logError(fields, err, "empty llm response")
		return "", domainllm.NewProviderError("empty", err)
	}

	return text, nil
}

func (g *textGenerator) logError(fields logrus.Fields, err error, message string) {
	if g.logger == nil || err == nil {
		return
	}

	entry := g.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
