package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPrompt_Deterministic(t *testing.T) {
	r := Rendered{System: "sys", User: "user"}
	ic := InjectedContext{Refs: []string{"a.md", "b.md"}}

	first := HashPrompt(r, ic)
	second := HashPrompt(r, ic)
	assert.Equal(t, first, second)
	assert.Len(t, first.Prompt, 32)
	assert.Len(t, first.StablePrefix, 32)
}

func TestHashPrompt_UserContentOnlyChange(t *testing.T) {
	ic := InjectedContext{Refs: []string{"a.md"}}
	a := HashPrompt(Rendered{System: "sys", User: "draft one"}, ic)
	b := HashPrompt(Rendered{System: "sys", User: "draft two"}, ic)

	// Stable prefix is invariant under userContent-only changes.
	assert.Equal(t, a.StablePrefix, b.StablePrefix)
	assert.NotEqual(t, a.Prompt, b.Prompt)
}

func TestHashPrompt_SystemChangeMovesBoth(t *testing.T) {
	ic := InjectedContext{}
	a := HashPrompt(Rendered{System: "sys one", User: "u"}, ic)
	b := HashPrompt(Rendered{System: "sys two", User: "u"}, ic)

	assert.NotEqual(t, a.StablePrefix, b.StablePrefix)
	assert.NotEqual(t, a.Prompt, b.Prompt)
}

func TestHashPrompt_RefsFeedBothHashes(t *testing.T) {
	r := Rendered{System: "sys", User: "u"}
	a := HashPrompt(r, InjectedContext{Refs: []string{"a.md"}})
	b := HashPrompt(r, InjectedContext{Refs: []string{"b.md"}})

	assert.NotEqual(t, a.StablePrefix, b.StablePrefix)
	assert.NotEqual(t, a.Prompt, b.Prompt)
}

func TestHashPrompt_RulesPresenceMatters(t *testing.T) {
	r := Rendered{System: "sys", User: "u"}
	a := HashPrompt(r, InjectedContext{})
	b := HashPrompt(r, InjectedContext{Rules: &ContextRules{SurroundingChars: 200}})

	assert.NotEqual(t, a.StablePrefix, b.StablePrefix)
}

func TestHashPrompt_NormalizedRefsHashIdentically(t *testing.T) {
	r := Rendered{System: "sys", User: "u"}
	a := HashPrompt(r, InjectedContext{Refs: NormalizeRefs([]string{" b.md ", "a.md", "b.md"})})
	b := HashPrompt(r, InjectedContext{Refs: NormalizeRefs([]string{"a.md", "b.md"})})
	assert.Equal(t, a, b)
}

func TestHashPrompt_NoConcatenationCollision(t *testing.T) {
	// Field boundaries are length-prefixed: moving bytes between fields
	// must change the digest.
	a := HashPrompt(Rendered{System: "ab", User: "c"}, InjectedContext{})
	b := HashPrompt(Rendered{System: "a", User: "bc"}, InjectedContext{})
	assert.NotEqual(t, a.Prompt, b.Prompt)
}
