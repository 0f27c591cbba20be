// Package summarize talks to the language-model inference service.
package summarize

import (
	"context"
	"fmt"

	"docsum/internal/config"
)

// Summarizer returns a raw, unsanitized summary of text.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxChars int) (string, error)
}

// Prompt asks for a summary within the character budget, without a preface.
func Prompt(text string, maxChars int) string {
	return fmt.Sprintf(
		"Summarize the following text in under %d characters, "+
			"please skip the prefaces and just give raw summary:\n\n%s",
		maxChars, text,
	)
}

// New builds the client for the configured provider.
func New(cfg config.SummarizerConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
}
