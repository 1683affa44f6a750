package content

import (
	"context"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	domainllm "postsmith/app/internal/domain/llm"
)

const (
	// DefaultMaxLength is the platform character limit used when none is configured.
	DefaultMaxLength = 280
	// DefaultMaxRetries is the total attempt budget used when none is configured.
	DefaultMaxRetries = 5

	// ReasonRetriesExhausted is reported when every attempt failed.
	ReasonRetriesExhausted = "exhausted retries"
)

// ErrRetriesExhausted is wrapped by Result.Err when no candidate passed validation.
var ErrRetriesExhausted = eris.New(ReasonRetriesExhausted)

// Chooser picks an index in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Chooser interface {
	IntN(n int) int
}

type globalChooser struct{}

func (globalChooser) IntN(n int) int {
	return rand.IntN(n)
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Catalog Catalog
	Client  domainllm.TextGenerator
	// MaxLength is the inclusive upper bound on post length in characters.
	MaxLength int
	// MaxRetries is the total number of generation attempts; zero disables generation.
	MaxRetries int
	Chooser    Chooser
	Logger     *logrus.Logger
}

// Generator produces validated posts with a bounded number of generation attempts.
type Generator struct {
	topics     []Topic
	styles     []StyleTemplate
	client     domainllm.TextGenerator
	maxLength  int
	maxRetries int
	chooser    Chooser
	logger     *logrus.Logger
}

// NewGenerator validates opts and builds a Generator.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.Catalog.Empty() {
		return nil, eris.New("content catalog must contain topics and styles")
	}
	if opts.Client == nil {
		return nil, eris.New("text generator is required")
	}
	if opts.MaxLength <= 0 {
		return nil, eris.Errorf("max length must be positive, got %d", opts.MaxLength)
	}
	if opts.MaxRetries < 0 {
		return nil, eris.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}

	chooser := opts.Chooser
	if chooser == nil {
		chooser = globalChooser{}
	}

	return &Generator{
		topics:     opts.Catalog.Topics(),
		styles:     opts.Catalog.Styles(),
		client:     opts.Client,
		maxLength:  opts.MaxLength,
		maxRetries: opts.MaxRetries,
		chooser:    chooser,
		logger:     opts.Logger,
	}, nil
}

// MaxLength returns the configured post length limit.
func (g *Generator) MaxLength() int {
	return g.maxLength
}

// Generate picks one topic, then tries randomly chosen styles for it until a candidate fits
// MaxLength or the attempt budget runs out. Failed attempts never surface as errors; the
// returned error is non-nil only when ctx is done before the next attempt starts.
func (g *Generator) Generate(ctx context.Context) (Result, error) {
	topic := g.topics[g.chooser.IntN(len(g.topics))]
	result := Result{Topic: topic}

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, eris.Wrap(err, "generation cancelled")
		}

		style := g.styles[g.chooser.IntN(len(g.styles))]
		record, text := g.try(ctx, attempt+1, topic, style)
		result.Attempts = append(result.Attempts, record)

		if record.Outcome == OutcomeAccepted {
			result.Post = &ValidatedPost{
				Text:   text,
				Topic:  topic,
				Style:  style,
				Prompt: record.Prompt,
			}
			return result, nil
		}

		g.logAttempt(topic, record)
	}

	result.Reason = ReasonRetriesExhausted
	return result, nil
}

func (g *Generator) try(ctx context.Context, number int, topic Topic, style StyleTemplate) (Attempt, string) {
	prompt := style.Render(topic)
	record := Attempt{Number: number, Style: style, Prompt: prompt}

	text, err := g.client.GenerateText(ctx, string(prompt))
	if err != nil {
		record.Outcome = OutcomeProviderError
		record.Err = err
		return record, ""
	}

	candidate := strings.TrimSpace(text)
	record.Length = utf8.RuneCountInString(candidate)
	if record.Length == 0 {
		record.Outcome = OutcomeEmpty
		record.Err = eris.New("candidate is empty after trimming")
		return record, ""
	}
	if record.Length > g.maxLength {
		record.Outcome = OutcomeOverLength
		record.Err = eris.Errorf("candidate has %d characters, limit is %d", record.Length, g.maxLength)
		return record, ""
	}

	record.Outcome = OutcomeAccepted
	return record, candidate
}

func (g *Generator) logAttempt(topic Topic, record Attempt) {
	if g.logger == nil {
		return
	}

	entry := g.logger.WithFields(logrus.Fields{
		"topic":   string(topic),
		"style":   string(record.Style),
		"attempt": record.Number,
		"outcome": string(record.Outcome),
	})
	if record.Outcome == OutcomeOverLength {
		entry = entry.WithField("length", record.Length)
	}
	if record.Err != nil {
		entry = entry.WithField("error", record.Err.Error())
	}
	entry.Warn("generation attempt rejected")
}
