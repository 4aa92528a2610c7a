package llm

import "context"

// GenerationParams tunes a single model call.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ReviewClient is the standard interface for any LLM backend that can
// review and refactor code. The gateway only calls it after the admission
// check has allowed the request.
type ReviewClient interface {
	// Review returns a code review for the given source text.
	Review(ctx context.Context, code, language, instructions string, params GenerationParams) (string, error)

	// Refactor returns a refactoring suggestion for the given source text.
	Refactor(ctx context.Context, code, language, goal string, params GenerationParams) (string, error)
}
