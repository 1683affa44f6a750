package llm

import "context"

// TextGenerator turns a fully composed prompt into generated text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ProviderError reports a failed generation call. Reason is a short machine friendly label
// such as "request", "content_filter", "refusal" or "empty".
type ProviderError struct {
	Reason string
	Err    error
}

// NewProviderError wraps err with a provider failure reason.
func NewProviderError(reason string, err error) *ProviderError {
	return &ProviderError{Reason: reason, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "generation provider failure: " + e.Reason
	}
	return "generation provider failure (" + e.Reason + "): " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
