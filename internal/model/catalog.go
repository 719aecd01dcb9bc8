package model

// CatalogEntry describes one model the app knows how to download. SHA256
// optionally pins the exact artifact; when empty the expected digest is
// resolved from the hosting repo's LFS metadata at pull time. Either way a
// download that does not hash to the expected digest is never marked ready.
type CatalogEntry struct {
	ID         string
	Name       string
	URL        string
	SHA256     string
	SizeBytes  int64
	ContextLen int
}

// catalog lists the completion models supported by this build. Small
// instruction-tuned GGUF quants: inline completion needs latency, not depth.
var catalog = []CatalogEntry{
	{
		ID:         "qwen2.5-0.5b-instruct-q8",
		Name:       "Qwen 2.5 0.5B Instruct (Q8_0)",
		URL:        "https://huggingface.co/Qwen/Qwen2.5-0.5B-Instruct-GGUF/resolve/main/qwen2.5-0.5b-instruct-q8_0.gguf",
		SizeBytes:  531068800,
		ContextLen: 32768,
	},
	{
		ID:         "llama-3.2-1b-instruct-q4",
		Name:       "Llama 3.2 1B Instruct (Q4_K_M)",
		URL:        "https://huggingface.co/bartowski/Llama-3.2-1B-Instruct-GGUF/resolve/main/Llama-3.2-1B-Instruct-Q4_K_M.gguf",
		SizeBytes:  807940096,
		ContextLen: 131072,
	},
	{
		ID:         "smollm2-360m-instruct-q8",
		Name:       "SmolLM2 360M Instruct (Q8_0)",
		URL:        "https://huggingface.co/HuggingFaceTB/SmolLM2-360M-Instruct-GGUF/resolve/main/smollm2-360m-instruct-q8_0.gguf",
		SizeBytes:  386048000,
		ContextLen: 8192,
	},
}

// Catalog returns the supported models.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for an id.
func Lookup(id string) (CatalogEntry, bool) {
	for _, e := range catalog {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}
