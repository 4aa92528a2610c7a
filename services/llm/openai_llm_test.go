package llm

import (
	"strings"
	"testing"
)

func TestBuildReviewPrompt(t *testing.T) {
	prompt := buildReviewPrompt("func main() {}", "go", "check error handling")

	if !strings.Contains(prompt, "Focus: check error handling") {
		t.Errorf("prompt missing instructions: %q", prompt)
	}
	if !strings.Contains(prompt, "```go") {
		t.Errorf("prompt missing fenced language block: %q", prompt)
	}
	if !strings.Contains(prompt, "func main() {}") {
		t.Errorf("prompt missing code: %q", prompt)
	}
}

func TestBuildReviewPrompt_NoInstructions(t *testing.T) {
	prompt := buildReviewPrompt("x = 1", "", "")

	if strings.Contains(prompt, "Focus:") {
		t.Errorf("prompt has Focus section without instructions: %q", prompt)
	}
	if !strings.HasPrefix(prompt, "Review the following code:") {
		t.Errorf("unexpected prompt start: %q", prompt)
	}
}

func TestBuildRefactorPrompt(t *testing.T) {
	prompt := buildRefactorPrompt("func main() {}", "go", "improve readability")

	if !strings.HasPrefix(prompt, "Goal: improve readability") {
		t.Errorf("prompt missing goal: %q", prompt)
	}
	if !strings.Contains(prompt, "Refactor the following go code:") {
		t.Errorf("prompt missing refactor framing: %q", prompt)
	}
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewOpenAIClient(); err == nil {
		t.Error("NewOpenAIClient() without key: error = nil, want non-nil")
	}
}
