package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const reviewSystemPrompt = "You are an expert code reviewer. Point out bugs, " +
	"risky patterns, and missing error handling. Be specific and cite line " +
	"context. Do not restate the code."

const refactorSystemPrompt = "You are an expert software engineer. Propose a " +
	"refactoring that achieves the stated goal while preserving behavior. " +
	"Show the refactored code and explain the changes briefly."

// OpenAIClient implements ReviewClient against the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from OPENAI_API_KEY / OPENAI_MODEL.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Review implements the ReviewClient interface.
func (o *OpenAIClient) Review(ctx context.Context, code, language, instructions string, params GenerationParams) (string, error) {
	prompt := buildReviewPrompt(code, language, instructions)
	return o.complete(ctx, reviewSystemPrompt, prompt, params)
}

// Refactor implements the ReviewClient interface.
func (o *OpenAIClient) Refactor(ctx context.Context, code, language, goal string, params GenerationParams) (string, error) {
	prompt := buildRefactorPrompt(code, language, goal)
	return o.complete(ctx, refactorSystemPrompt, prompt, params)
}

func (o *OpenAIClient) complete(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func buildReviewPrompt(code, language, instructions string) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString("Focus: ")
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Review the following ")
	if language != "" {
		b.WriteString(language)
		b.WriteString(" ")
	}
	b.WriteString("code:\n\n```")
	b.WriteString(language)
	b.WriteString("\n")
	b.WriteString(code)
	b.WriteString("\n```\n")
	return b.String()
}

func buildRefactorPrompt(code, language, goal string) string {
	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	b.WriteString("\n\nRefactor the following ")
	if language != "" {
		b.WriteString(language)
		b.WriteString(" ")
	}
	b.WriteString("code:\n\n```")
	b.WriteString(language)
	b.WriteString("\n")
	b.WriteString(code)
	b.WriteString("\n```\n")
	return b.String()
}
