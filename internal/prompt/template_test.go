package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPruneSections(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "no sections passes through",
			tmpl: "rewrite {{text}}",
			vars: map[string]string{"text": "x"},
			want: "rewrite {{text}}",
		},
		{
			name: "section kept when variable set",
			tmpl: "a{{#ctx}} with {{ctx}}{{/ctx}}b",
			vars: map[string]string{"ctx": "notes"},
			want: "a with {{ctx}}b",
		},
		{
			name: "section dropped when variable unset",
			tmpl: "a{{#ctx}} with {{ctx}}{{/ctx}}b",
			vars: map[string]string{},
			want: "ab",
		},
		{
			name: "section dropped when variable blank",
			tmpl: "a{{#ctx}}X{{/ctx}}b",
			vars: map[string]string{"ctx": "   "},
			want: "ab",
		},
		{
			name: "nested sections resolve outside-in",
			tmpl: "{{#a}}A{{#b}}B{{/b}}{{/a}}",
			vars: map[string]string{"a": "1"},
			want: "A",
		},
		{
			name: "nested sections both kept",
			tmpl: "{{#a}}A{{#b}}B{{/b}}{{/a}}",
			vars: map[string]string{"a": "1", "b": "2"},
			want: "AB",
		},
		{
			name: "unterminated section left literal",
			tmpl: "a{{#ctx}}oops",
			vars: map[string]string{"ctx": "x"},
			want: "a{{#ctx}}oops",
		},
		{
			name: "two sibling sections",
			tmpl: "{{#x}}X{{/x}}{{#y}}Y{{/y}}",
			vars: map[string]string{"y": "1"},
			want: "Y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pruneSections(tt.tmpl, tt.vars))
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "basic substitution",
			tmpl: "rewrite: {{text}}",
			vars: map[string]string{"text": "hello"},
			want: "rewrite: hello",
		},
		{
			name: "unset variable becomes empty",
			tmpl: "a {{missing}} b",
			vars: map[string]string{},
			want: "a  b",
		},
		{
			name: "repeated placeholder",
			tmpl: "{{x}}-{{x}}",
			vars: map[string]string{"x": "v"},
			want: "v-v",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substitute(tt.tmpl, tt.vars))
		})
	}
}

func TestRenderTemplate_Trims(t *testing.T) {
	got := renderTemplate("  {{#x}}ignored{{/x}}  hello {{name}}  ", map[string]string{"name": "world"})
	assert.Equal(t, "hello world", got)
}
