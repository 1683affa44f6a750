package content

import "github.com/rotisserie/eris"

// Outcome classifies a single generation attempt.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeOverLength    Outcome = "over_length"
	OutcomeEmpty         Outcome = "empty"
)

// Attempt records one call to the text generator.
type Attempt struct {
	Number  int
	Style   StyleTemplate
	Prompt  Prompt
	Outcome Outcome
	// Length is the trimmed candidate length in characters; zero for provider errors.
	Length int
	Err    error
}

// ValidatedPost is generated text no longer than the generator's MaxLength.
type ValidatedPost struct {
	Text   string
	Topic  Topic
	Style  StyleTemplate
	Prompt Prompt
}

// Result is the outcome of Generator.Generate. Post is nil when every attempt failed, in
// which case Reason explains why.
type Result struct {
	Topic    Topic
	Post     *ValidatedPost
	Attempts []Attempt
	Reason   string
}

// OK reports whether a validated post was produced.
func (r Result) OK() bool {
	return r.Post != nil
}

// Err converts a failed result into an error wrapping ErrRetriesExhausted.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return eris.Wrapf(ErrRetriesExhausted, "no valid post for topic %q after %d attempts", r.Topic, len(r.Attempts))
}
