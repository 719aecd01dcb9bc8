package prompt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// Hashes identify prompts for caching, dedup, and telemetry. They are cache
// keys, not a security boundary, but they must be deterministic across
// process restarts and collision-resistant enough to trust for equality.
//
// StablePrefixHash covers (system prompt, sorted refs, context rules): the
// portion expected not to change across minor edits to the user's freeform
// input. PromptHash additionally covers the user content and identifies the
// exact request: equal prompt hashes mean byte-identical requests as seen by
// the transport.

// Hashes carries both digests for an assembled prompt.
type Hashes struct {
	StablePrefix string
	Prompt       string
}

// canonical writes a length-prefixed, field-tagged record so that no two
// distinct inputs can collide by concatenation (e.g. "ab"+"c" vs "a"+"bc").
func canonical(h hash.Hash, tag string, value string) {
	var lenBuf [8]byte
	h.Write([]byte(tag))
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
	h.Write(lenBuf[:])
	h.Write([]byte(value))
}

func canonicalRules(h hash.Hash, rules *ContextRules) {
	if rules == nil {
		canonical(h, "rules", "")
		return
	}
	canonical(h, "rules", strconv.Itoa(rules.SurroundingChars)+"|"+strconv.FormatBool(rules.IncludeSynopsis))
}

func stablePrefixDigest(system string, refs []string, rules *ContextRules) hash.Hash {
	h := sha256.New()
	canonical(h, "sys", system)
	for _, r := range refs {
		canonical(h, "ref", r)
	}
	canonicalRules(h, rules)
	return h
}

// HashPrompt computes both digests over the assembled prompt and the
// normalized injected context. Refs must already be normalized; the caller
// (Inject) guarantees that.
func HashPrompt(r Rendered, injected InjectedContext) Hashes {
	prefix := stablePrefixDigest(r.System, injected.Refs, injected.Rules)
	stable := prefix.Sum(nil)

	canonical(prefix, "user", r.User)
	full := prefix.Sum(nil)

	// 128 bits of a sha256 digest is plenty for a cache key.
	return Hashes{
		StablePrefix: hex.EncodeToString(stable[:16]),
		Prompt:       hex.EncodeToString(full[:16]),
	}
}
