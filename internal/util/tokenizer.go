// Package util holds small shared helpers: token estimation for streams whose
// provider never reported usage.
package util

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

var (
	codecCache   = make(map[tokenizer.Encoding]tokenizer.Codec)
	codecCacheMu sync.RWMutex
)

// tokenEstimationThreshold guards the tokenizer against very large inputs;
// past this size a byte-ratio estimate is close enough.
const tokenEstimationThreshold = 100_000

// CountTokens returns the token count of text under the encoding that fits
// model, falling back to a byte-ratio estimate when the tokenizer is
// unavailable or the input is very large.
func CountTokens(model, text string) int64 {
	if text == "" {
		return 0
	}
	if len(text) > tokenEstimationThreshold {
		return estimateTokens(text)
	}
	enc, err := codecFor(model)
	if err != nil {
		return estimateTokens(text)
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return estimateTokens(text)
	}
	return int64(len(ids))
}

// EstimateUsage fills in token accounting for a stream whose provider never
// reported usage. Counts are approximate and never overwrite reported values;
// callers merge them only into zero fields.
func EstimateUsage(model, promptText, completionText string) *ir.Usage {
	usage := &ir.Usage{
		PromptTokens:     CountTokens(model, promptText),
		CompletionTokens: CountTokens(model, completionText),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

func codecFor(model string) (tokenizer.Codec, error) {
	encoding := encodingFor(model)

	codecCacheMu.RLock()
	codec, ok := codecCache[encoding]
	codecCacheMu.RUnlock()
	if ok {
		return codec, nil
	}

	codecCacheMu.Lock()
	defer codecCacheMu.Unlock()
	if codec, ok := codecCache[encoding]; ok {
		return codec, nil
	}
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}
	codecCache[encoding] = codec
	return codec, nil
}

func encodingFor(model string) tokenizer.Encoding {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gpt-4") && !strings.Contains(lower, "gpt-4o"),
		strings.Contains(lower, "gpt-3.5"),
		strings.Contains(lower, "turbo"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// estimateTokens approximates tokens by byte length. Prose averages about 4
// bytes per token; code is denser.
func estimateTokens(s string) int64 {
	ratio := 4.0
	if isLikelyCode(s) {
		ratio = 3.5
	}
	return int64(float64(len(s)) / ratio)
}

func isLikelyCode(s string) bool {
	indicators := []string{
		"func ", "function ", "def ", "class ", "import ", "package ",
		"{\n", "}\n", "();", "=>", "->", "//", "/*", "#include",
	}
	for _, indicator := range indicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
