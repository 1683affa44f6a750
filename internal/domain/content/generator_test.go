package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	domainllm "postsmith/app/internal/domain/llm"
)

type scriptedReply struct {
	text string
	err  error
}

type scriptedClient struct {
	replies  []scriptedReply
	fallback scriptedReply
	prompts  []string
}

var _ domainllm.TextGenerator = (*scriptedClient)(nil)

func (s *scriptedClient) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	reply := s.fallback
	if idx := len(s.prompts) - 1; idx < len(s.replies) {
		reply = s.replies[idx]
	}
	return reply.text, reply.err
}

type sequenceChooser struct {
	picks []int
	calls int
}

func (s *sequenceChooser) IntN(n int) int {
	defer func() { s.calls++ }()
	if s.calls < len(s.picks) {
		return s.picks[s.calls] % n
	}
	return 0
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mustCatalog(t *testing.T, topics, styles []string) Catalog {
	t.Helper()

	catalog, err := NewCatalog(topics, styles)
	if err != nil {
		t.Fatalf("NewCatalog returned error: %v", err)
	}
	return catalog
}

func newTestGenerator(t *testing.T, client domainllm.TextGenerator, maxLength, maxRetries int) *Generator {
	t.Helper()

	generator, err := NewGenerator(GeneratorOptions{
		Catalog:    mustCatalog(t, []string{"A"}, []string{"Tell me about {topic}"}),
		Client:     client,
		MaxLength:  maxLength,
		MaxRetries: maxRetries,
		Logger:     silentLogger(),
	})
	if err != nil {
		t.Fatalf("NewGenerator returned error: %v", err)
	}
	return generator
}

func TestGenerateAcceptsFirstValidCandidate(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{replies: []scriptedReply{{text: "short ok"}}}
	generator := newTestGenerator(t, client, 20, DefaultMaxRetries)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if !result.OK() {
		t.Fatalf("expected a validated post, got reason %q", result.Reason)
	}
	if result.Post.Text != "short ok" {
		t.Fatalf("expected post %q, got %q", "short ok", result.Post.Text)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("expected exactly one generation call, got %d", len(client.prompts))
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != OutcomeAccepted {
		t.Fatalf("expected a single accepted attempt, got %+v", result.Attempts)
	}
	if result.Err() != nil {
		t.Fatalf("expected nil Err for successful result, got %v", result.Err())
	}
}

func TestGenerateBuildsPromptFromTopicAndStyle(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fallback: scriptedReply{text: strings.Repeat("x", 50)}}
	generator := newTestGenerator(t, client, 10, 3)

	if _, err := generator.Generate(context.Background()); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if len(client.prompts) != 3 {
		t.Fatalf("expected 3 prompts, got %d", len(client.prompts))
	}
	for idx, prompt := range client.prompts {
		if prompt != "Tell me about A" {
			t.Fatalf("expected prompt %d to be %q, got %q", idx, "Tell me about A", prompt)
		}
	}
}

func TestGenerateExhaustsBudgetOnOverLength(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fallback: scriptedReply{text: strings.Repeat("y", 21)}}
	generator := newTestGenerator(t, client, 20, 4)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if result.OK() {
		t.Fatalf("expected failure, got post %q", result.Post.Text)
	}
	if result.Reason != ReasonRetriesExhausted {
		t.Fatalf("expected reason %q, got %q", ReasonRetriesExhausted, result.Reason)
	}
	if len(client.prompts) != 4 {
		t.Fatalf("expected exactly 4 generation calls, got %d", len(client.prompts))
	}
	for _, attempt := range result.Attempts {
		if attempt.Outcome != OutcomeOverLength {
			t.Fatalf("expected over-length outcome, got %s", attempt.Outcome)
		}
		if attempt.Length != 21 {
			t.Fatalf("expected recorded length 21, got %d", attempt.Length)
		}
	}
	if !eris.Is(result.Err(), ErrRetriesExhausted) {
		t.Fatalf("expected Err to wrap ErrRetriesExhausted, got %v", result.Err())
	}
}

func TestGenerateRecoversFromProviderErrors(t *testing.T) {
	t.Parallel()

	providerErr := domainllm.NewProviderError("request", errors.New("connection reset"))
	client := &scriptedClient{replies: []scriptedReply{
		{err: providerErr},
		{err: providerErr},
		{text: "  third time lucky  "},
	}}
	generator := newTestGenerator(t, client, 280, 5)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if !result.OK() {
		t.Fatalf("expected success on third attempt, got reason %q", result.Reason)
	}
	if result.Post.Text != "third time lucky" {
		t.Fatalf("expected trimmed text, got %q", result.Post.Text)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(result.Attempts))
	}

	expected := []Outcome{OutcomeProviderError, OutcomeProviderError, OutcomeAccepted}
	for idx, outcome := range expected {
		if result.Attempts[idx].Outcome != outcome {
			t.Fatalf("attempt %d: expected %s, got %s", idx+1, outcome, result.Attempts[idx].Outcome)
		}
		if result.Attempts[idx].Number != idx+1 {
			t.Fatalf("attempt %d: expected number %d, got %d", idx+1, idx+1, result.Attempts[idx].Number)
		}
	}

	var asProvider *domainllm.ProviderError
	if !errors.As(result.Attempts[0].Err, &asProvider) {
		t.Fatalf("expected provider error to be recorded, got %v", result.Attempts[0].Err)
	}
}

func TestGenerateRejectsBlankCandidates(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{replies: []scriptedReply{
		{text: "   \n\t "},
		{text: ""},
		{text: "finally something"},
	}}
	generator := newTestGenerator(t, client, 280, 5)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if !result.OK() || result.Post.Text != "finally something" {
		t.Fatalf("expected third candidate to be accepted, got %+v", result)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(result.Attempts))
	}
	for idx := 0; idx < 2; idx++ {
		attempt := result.Attempts[idx]
		if attempt.Outcome != OutcomeEmpty || attempt.Length != 0 || attempt.Err == nil {
			t.Fatalf("attempt %d: expected empty outcome with error, got %+v", idx+1, attempt)
		}
	}
}

func TestGenerateExhaustsBudgetOnBlankCandidates(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fallback: scriptedReply{text: "  "}}
	generator := newTestGenerator(t, client, 280, 2)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if result.OK() || result.Reason != ReasonRetriesExhausted {
		t.Fatalf("expected exhausted result, got %+v", result)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected blank replies to consume the budget, got %d calls", len(client.prompts))
	}
}

func TestGenerateWithZeroRetriesMakesNoCalls(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fallback: scriptedReply{text: "ok"}}
	generator := newTestGenerator(t, client, 280, 0)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if result.OK() {
		t.Fatalf("expected failure with zero retries")
	}
	if len(client.prompts) != 0 {
		t.Fatalf("expected no generation calls, got %d", len(client.prompts))
	}
	if result.Reason != ReasonRetriesExhausted {
		t.Fatalf("expected reason %q, got %q", ReasonRetriesExhausted, result.Reason)
	}
}

func TestGenerateCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 10)
	if utf8.RuneCountInString(text) != 10 || len(text) != 20 {
		t.Fatalf("unexpected fixture lengths")
	}

	client := &scriptedClient{fallback: scriptedReply{text: text}}
	generator := newTestGenerator(t, client, 10, 1)

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected multi-byte text at the limit to be accepted")
	}
}

func TestGenerateKeepsTopicAndRedrawsStyle(t *testing.T) {
	t.Parallel()

	catalog := mustCatalog(t,
		[]string{"alpha", "beta"},
		[]string{"Define {topic}.", "Myth about {topic}.", "Tip on {topic}."},
	)
	client := &scriptedClient{fallback: scriptedReply{text: strings.Repeat("z", 30)}}
	chooser := &sequenceChooser{picks: []int{1, 0, 2, 1}}

	generator, err := NewGenerator(GeneratorOptions{
		Catalog:    catalog,
		Client:     client,
		MaxLength:  10,
		MaxRetries: 3,
		Chooser:    chooser,
	})
	if err != nil {
		t.Fatalf("NewGenerator returned error: %v", err)
	}

	result, err := generator.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if result.Topic != "beta" {
		t.Fatalf("expected topic beta, got %q", result.Topic)
	}

	expected := []string{"Define beta.", "Tip on beta.", "Myth about beta."}
	if len(client.prompts) != len(expected) {
		t.Fatalf("expected %d prompts, got %d", len(expected), len(client.prompts))
	}
	for idx, prompt := range expected {
		if client.prompts[idx] != prompt {
			t.Fatalf("prompt %d: expected %q, got %q", idx, prompt, client.prompts[idx])
		}
	}
}

func TestGenerateStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fallback: scriptedReply{text: "ok"}}
	generator := newTestGenerator(t, client, 280, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := generator.Generate(ctx); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if len(client.prompts) != 0 {
		t.Fatalf("expected no generation calls after cancellation, got %d", len(client.prompts))
	}
}

func TestNewGeneratorValidatesOptions(t *testing.T) {
	t.Parallel()

	catalog := mustCatalog(t, []string{"A"}, []string{"{topic}"})
	client := &scriptedClient{}

	cases := map[string]GeneratorOptions{
		"empty catalog":    {Client: client, MaxLength: 10, MaxRetries: 1},
		"missing client":   {Catalog: catalog, MaxLength: 10, MaxRetries: 1},
		"zero max length":  {Catalog: catalog, Client: client, MaxRetries: 1},
		"negative retries": {Catalog: catalog, Client: client, MaxLength: 10, MaxRetries: -1},
	}

	for name, opts := range cases {
		if _, err := NewGenerator(opts); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
