package prompt

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"inkwell/internal/fault"
)

// ContextRules is a small opaque config struct describing how much
// surrounding document text the context-windowing collaborator should
// include. This package forwards it without interpretation; only its
// presence and encoded value matter here, because both feed the hash.
type ContextRules struct {
	SurroundingChars int  `json:"surrounding_chars"`
	IncludeSynopsis  bool `json:"include_synopsis"`
}

// InjectedContext is the validated auxiliary payload attached to a run.
//
// Memory ordering is caller-significant (ranked relevance, not a set) and is
// passed through untouched. Refs are normalized: the normalized form is what
// gets echoed back, hashed, and recorded on the run.
type InjectedContext struct {
	Memory []string
	Refs   []string
	Rules  *ContextRules
}

var driveLetterRe = regexp.MustCompile(`^[A-Za-z]:[/\\]`)

// ValidateRefs rejects any ref that is not a project-relative path: a leading
// slash or backslash, a drive letter, or a traversal that escapes the project
// root. One bad entry fails the whole set, naming the offending path; silently
// dropping it would make hash comparisons non-reproducible.
//
// Canonicalization is purely lexical: path.Clean on slash-normalized input,
// no symlink resolution, case-sensitive comparison.
func ValidateRefs(refs []string) error {
	for _, raw := range refs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			return fault.InvalidArgument("refs", "blank entry")
		}
		if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "\\") {
			return fault.InvalidArgument("refs", "absolute path not allowed: %s", ref)
		}
		if driveLetterRe.MatchString(ref) {
			return fault.InvalidArgument("refs", "drive-letter path not allowed: %s", ref)
		}
		cleaned := path.Clean(strings.ReplaceAll(ref, "\\", "/"))
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return fault.InvalidArgument("refs", "path escapes project root: %s", ref)
		}
	}
	return nil
}

// NormalizeRefs trims whitespace, removes exact duplicates, and sorts
// ascending by codepoint. Pure and idempotent: two requests differing only in
// ref order or padding normalize (and therefore hash) identically.
func NormalizeRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Inject validates and normalizes the injected context for a run. On success
// the returned context carries the normalized ref list; memory and rules pass
// through untouched.
func Inject(memory []string, refs []string, rules *ContextRules) (InjectedContext, error) {
	if err := ValidateRefs(refs); err != nil {
		return InjectedContext{}, err
	}
	return InjectedContext{
		Memory: memory,
		Refs:   NormalizeRefs(refs),
		Rules:  rules,
	}, nil
}
