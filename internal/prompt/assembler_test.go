package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble(t *testing.T) {
	tpl := Template{
		System: "You are an editor.{{#styleGuide}} Follow: {{styleGuide}}{{/styleGuide}}",
		User:   "Rewrite this:\n{{text}}",
	}

	t.Run("renders both templates", func(t *testing.T) {
		r, err := Assemble(tpl, Input{"text": "Some prose.", "styleGuide": "AP"})
		require.NoError(t, err)
		assert.Equal(t, "You are an editor. Follow: AP", r.System)
		assert.Equal(t, "Rewrite this:\nSome prose.", r.User)
	})

	t.Run("conditional section dropped when unset", func(t *testing.T) {
		r, err := Assemble(tpl, Input{"text": "Some prose."})
		require.NoError(t, err)
		assert.Equal(t, "You are an editor.", r.System)
	})

	t.Run("missing template fails", func(t *testing.T) {
		_, err := Assemble(Template{}, Input{"text": "x"})
		assert.ErrorIs(t, err, ErrTemplateMissing)
	})

	t.Run("empty render fails", func(t *testing.T) {
		_, err := Assemble(Template{System: "sys", User: "{{text}}"}, Input{})
		assert.ErrorIs(t, err, ErrEmptyRender)
	})

	t.Run("whitespace-only render fails", func(t *testing.T) {
		_, err := Assemble(Template{System: "sys", User: "  {{text}}  "}, Input{"text": "   "})
		assert.ErrorIs(t, err, ErrEmptyRender)
	})

	t.Run("pure function: same input same output", func(t *testing.T) {
		in := Input{"text": "abc"}
		a, err := Assemble(tpl, in)
		require.NoError(t, err)
		b, err := Assemble(tpl, in)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}
