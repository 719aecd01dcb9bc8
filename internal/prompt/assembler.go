// Package prompt turns a skill invocation into the exact bytes a transport
// will see: template rendering, injected-context validation and
// normalization, and stable prompt hashing. Everything here is a pure
// function of its inputs; no network or model is ever contacted.
package prompt

import (
	"errors"
	"fmt"

	"inkwell/internal/logging"
)

// Template holds the two prompt templates a skill defines.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Input is the bag of named string variables bound during rendering
// (e.g. "text", "instruction", "styleGuide").
type Input map[string]string

// Rendered is the final prompt pair produced by Assemble.
type Rendered struct {
	System string
	User   string
}

var (
	// ErrTemplateMissing indicates the skill defines no prompt template.
	ErrTemplateMissing = errors.New("skill defines no prompt template")
	// ErrEmptyRender indicates a rendered prompt came out empty. Catching
	// this here prevents silently sending a blank prompt to a provider.
	ErrEmptyRender = errors.New("rendered prompt is empty")
)

// Assemble renders a skill's system and user templates against the given
// variables. Conditional sections bound to absent or blank variables are
// stripped first, then remaining placeholders are substituted, then the
// results are trimmed.
func Assemble(tpl Template, input Input) (Rendered, error) {
	timer := logging.StartTimer(logging.CategoryPrompt, "Assemble")
	defer timer.Stop()

	if tpl.System == "" && tpl.User == "" {
		return Rendered{}, ErrTemplateMissing
	}

	r := Rendered{
		System: renderTemplate(tpl.System, input),
		User:   renderTemplate(tpl.User, input),
	}

	if r.System == "" {
		return Rendered{}, fmt.Errorf("system prompt: %w", ErrEmptyRender)
	}
	if r.User == "" {
		return Rendered{}, fmt.Errorf("user prompt: %w", ErrEmptyRender)
	}

	logging.Get(logging.CategoryPrompt).Debug(
		"Assembled prompt: system=%d chars, user=%d chars, vars=%d",
		len(r.System), len(r.User), len(input),
	)

	return r, nil
}
