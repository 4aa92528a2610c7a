package datatypes

import (
	"strings"
	"testing"
)

func TestReviewRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ReviewRequest
		wantErr bool
	}{
		{"valid", ReviewRequest{Code: "func main() {}", Language: "go"}, false},
		{"code only", ReviewRequest{Code: "x"}, false},
		{"missing code", ReviewRequest{Language: "go"}, true},
		{"code at limit", ReviewRequest{Code: strings.Repeat("a", MaxCodeBytes)}, false},
		{"code over limit", ReviewRequest{Code: strings.Repeat("a", MaxCodeBytes+1)}, true},
		{"language too long", ReviewRequest{Code: "x", Language: strings.Repeat("l", 65)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefactorRequest_Validate(t *testing.T) {
	valid := RefactorRequest{Code: "func main() {}", Goal: "readability"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	missingGoal := RefactorRequest{Code: "func main() {}"}
	if err := missingGoal.Validate(); err == nil {
		t.Error("Validate() without goal: error = nil, want non-nil")
	}
}

func TestDiffReviewRequest_Validate(t *testing.T) {
	valid := DiffReviewRequest{Patch: "--- a/x\n+++ b/x\n"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	empty := DiffReviewRequest{}
	if err := empty.Validate(); err == nil {
		t.Error("Validate() without patch: error = nil, want non-nil")
	}
}
