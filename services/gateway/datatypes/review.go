// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response shapes of the gateway
// API surface.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxCodeBytes caps submitted code size. Checked in bytes, not runes, to
// bound memory for pathological payloads before anything reaches the LLM.
const MaxCodeBytes = 256 * 1024

// reviewValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var reviewValidate *validator.Validate

func init() {
	reviewValidate = validator.New()
	_ = reviewValidate.RegisterValidation("maxcodebytes", validateMaxCodeBytes)
}

// validateMaxCodeBytes enforces the MaxCodeBytes ceiling on string fields.
func validateMaxCodeBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxCodeBytes
}

// ReviewRequest asks for an AI review of a piece of code.
type ReviewRequest struct {
	// Code is the source text to review.
	Code string `json:"code" validate:"required,maxcodebytes"`

	// Language is an optional language hint, e.g. "go" or "python".
	Language string `json:"language" validate:"omitempty,max=64"`

	// Instructions optionally focuses the review ("check error handling").
	Instructions string `json:"instructions" validate:"omitempty,max=2048"`
}

// Validate checks the request against its constraints.
func (r *ReviewRequest) Validate() error {
	if err := reviewValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid review request: %w", err)
	}
	return nil
}

// RefactorRequest asks for an AI refactoring suggestion.
type RefactorRequest struct {
	// Code is the source text to refactor.
	Code string `json:"code" validate:"required,maxcodebytes"`

	// Language is an optional language hint.
	Language string `json:"language" validate:"omitempty,max=64"`

	// Goal describes what the refactoring should achieve. Required; an
	// unconstrained "make it better" burns tokens for little value.
	Goal string `json:"goal" validate:"required,max=2048"`
}

// Validate checks the request against its constraints.
func (r *RefactorRequest) Validate() error {
	if err := reviewValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid refactor request: %w", err)
	}
	return nil
}

// DiffReviewRequest asks for an AI review of a unified diff.
type DiffReviewRequest struct {
	// Patch is a unified diff as produced by git diff.
	Patch string `json:"patch" validate:"required,maxcodebytes"`

	// Instructions optionally focuses the review.
	Instructions string `json:"instructions" validate:"omitempty,max=2048"`
}

// Validate checks the request against its constraints.
func (r *DiffReviewRequest) Validate() error {
	if err := reviewValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid diff review request: %w", err)
	}
	return nil
}

// ReviewResponse carries the AI output back to the caller.
type ReviewResponse struct {
	// RequestID identifies this request in logs and history.
	RequestID string `json:"request_id"`

	// Review is the model's answer.
	Review string `json:"review"`

	// Queued reports that the history record could not be written
	// synchronously and was handed to the retry queue. Advisory only; the
	// review itself succeeded.
	Queued bool `json:"queued,omitempty"`
}
