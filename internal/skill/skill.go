// Package skill holds the catalog of writing skills: named editing
// operations (rewrite, continue, summarize...) each carrying a system and
// user prompt template. Built-in skills ship with the binary; user-authored
// skill packs are loaded from YAML files in the workspace.
package skill

import (
	"errors"
	"fmt"
	"sync"

	"inkwell/internal/prompt"
)

// CompletionSkillID is the reserved skill id used for inline tab completion
// runs. It never appears in the user-facing skill catalog.
const CompletionSkillID = "inline-completion"

// Definition describes one invokable skill.
type Definition struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Prompt      prompt.Template `yaml:"prompt"`
}

// ErrNotFound indicates the requested skill id is not in the catalog.
var ErrNotFound = errors.New("skill not found")

// Store is the thread-safe skill catalog.
type Store struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewStore creates a catalog pre-populated with the built-in skills.
func NewStore() *Store {
	s := &Store{defs: make(map[string]Definition)}
	for _, d := range builtins() {
		s.defs[d.ID] = d
	}
	return s
}

// Get returns the definition for the given skill id.
func (s *Store) Get(id string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return d, nil
}

// Register adds or replaces a skill definition.
func (s *Store) Register(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("skill id required")
	}
	if d.Prompt.System == "" && d.Prompt.User == "" {
		return fmt.Errorf("skill %q: %w", d.ID, prompt.ErrTemplateMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[d.ID] = d
	return nil
}

// List returns all registered skill ids in unspecified order.
func (s *Store) List() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	return out
}

func builtins() []Definition {
	return []Definition{
		{
			ID:          "rewrite",
			Name:        "Rewrite",
			Description: "Rewrite the selection per an instruction",
			Prompt: prompt.Template{
				System: "You are a careful editor for a fiction and long-form writing app. " +
					"Preserve the author's voice. Return only the rewritten text, no commentary." +
					"{{#styleGuide}}\nHouse style:\n{{styleGuide}}{{/styleGuide}}",
				User: "{{#instruction}}Instruction: {{instruction}}\n\n{{/instruction}}" +
					"{{#context}}Surrounding context:\n{{context}}\n\n{{/context}}" +
					"Rewrite this passage:\n{{text}}",
			},
		},
		{
			ID:          "continue",
			Name:        "Continue Writing",
			Description: "Continue the draft from where it leaves off",
			Prompt: prompt.Template{
				System: "You are a co-writer. Continue the draft seamlessly in the " +
					"established voice and tense. Return only the continuation." +
					"{{#styleGuide}}\nHouse style:\n{{styleGuide}}{{/styleGuide}}",
				User: "{{#context}}Story context:\n{{context}}\n\n{{/context}}" +
					"Continue from here:\n{{text}}",
			},
		},
		{
			ID:          "summarize",
			Name:        "Summarize",
			Description: "Summarize the selection",
			Prompt: prompt.Template{
				System: "You summarize prose for the author's own reference. Be faithful " +
					"and concise; do not editorialize.",
				User: "{{#instruction}}Focus: {{instruction}}\n\n{{/instruction}}" +
					"Summarize:\n{{text}}",
			},
		},
		{
			ID:          "tone",
			Name:        "Adjust Tone",
			Description: "Shift the tone of the selection",
			Prompt: prompt.Template{
				System: "You adjust the tone of prose without changing its meaning. " +
					"Return only the adjusted text.",
				User: "Target tone: {{instruction}}\n\nAdjust:\n{{text}}",
			},
		},
		{
			ID:          CompletionSkillID,
			Name:        "Inline Completion",
			Description: "Low-latency continuation for ghost text",
			Prompt: prompt.Template{
				System: "Continue the user's text. Output only the continuation, at most " +
					"one sentence. No preamble, no quotes.",
				User: "{{text}}",
			},
		},
	}
}
