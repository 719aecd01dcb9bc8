package prompt

import (
	"regexp"
	"strings"
)

// Template syntax:
//
//	{{name}}            - substituted with the bound variable, or "" if unset
//	{{#name}}...{{/name}} - section kept only when the bound variable is
//	                        non-blank; markers are removed either way
//
// Rendering is a two-pass pure transform: a section-pruning pass producing a
// reduced template, then a variable-substitution pass. Neither pass mutates
// shared state, so both are trivially testable in isolation.

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// pruneSections removes conditional sections whose bound variable is absent or
// blank, and unwraps the sections that survive. Sections may nest; the scan
// restarts after each rewrite so inner sections are handled on later passes.
func pruneSections(tmpl string, vars map[string]string) string {
	s := tmpl
	for {
		open := strings.Index(s, "{{#")
		if open < 0 {
			return s
		}
		nameEnd := strings.Index(s[open:], "}}")
		if nameEnd < 0 {
			return s
		}
		name := s[open+3 : open+nameEnd]
		closer := "{{/" + name + "}}"
		bodyStart := open + nameEnd + 2
		closeIdx := strings.Index(s[bodyStart:], closer)
		if closeIdx < 0 {
			// Unterminated section: leave the text as-is rather than
			// guessing at the author's intent.
			return s
		}
		body := s[bodyStart : bodyStart+closeIdx]
		after := s[bodyStart+closeIdx+len(closer):]

		if strings.TrimSpace(vars[name]) != "" {
			s = s[:open] + body + after
		} else {
			s = s[:open] + after
		}
	}
}

// substitute replaces every {{name}} placeholder with the bound variable's
// value, or the empty string when the variable is unset.
func substitute(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// renderTemplate applies both passes and trims the result.
func renderTemplate(tmpl string, vars map[string]string) string {
	return strings.TrimSpace(substitute(pruneSections(tmpl, vars), vars))
}
