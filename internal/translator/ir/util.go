package ir

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a wire payload fails JSON validation.
var ErrInvalidJSON = errors.New("invalid json payload")

// ParseAndValidateJSON parses and validates in one pass, avoiding a separate
// validation scan before ParseBytes.
func ParseAndValidateJSON(rawJSON []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(rawJSON) {
		return gjson.Result{}, ErrInvalidJSON
	}
	result := gjson.ParseBytes(rawJSON)
	if !result.Exists() || result.Type == gjson.Null {
		return gjson.Result{}, ErrInvalidJSON
	}
	return result, nil
}

var (
	dataTag  = []byte("data:")
	eventTag = []byte("event:")
)

// ExtractSSEData strips SSE framing from a single line and returns the JSON
// payload, or nil for lines that carry none (event names, comments, blanks).
// Multi-line frames are handled by the scanner upstream; each call sees one
// line.
func ExtractSSEData(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil
	}
	if bytes.HasPrefix(trimmed, eventTag) {
		return nil
	}
	if bytes.HasPrefix(trimmed, dataTag) {
		return bytes.TrimSpace(trimmed[len(dataTag):])
	}
	// Already a bare payload.
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	return nil
}

var builderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// GetStringBuilder returns a pooled strings.Builder for frame assembly.
func GetStringBuilder() *strings.Builder {
	return builderPool.Get().(*strings.Builder)
}

// PutStringBuilder resets and returns a builder to the pool.
func PutStringBuilder(b *strings.Builder) {
	b.Reset()
	builderPool.Put(b)
}

var idBytePool = sync.Pool{
	New: func() any {
		b := make([]byte, 24)
		return &b
	},
}

func generateAlphanumeric(length int) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	var b []byte
	if length == 24 {
		bp := idBytePool.Get().(*[]byte)
		b = *bp
		defer idBytePool.Put(bp)
	} else {
		b = make([]byte, length)
	}

	_, _ = rand.Read(b)
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// GenToolCallID generates an OpenAI-shaped tool call id.
func GenToolCallID() string {
	return fmt.Sprintf("call_%s", generateAlphanumeric(24))
}

// GenAnthropicToolCallID generates an Anthropic-shaped tool use id.
func GenAnthropicToolCallID() string {
	return fmt.Sprintf("toolu_%s", generateAlphanumeric(20))
}

// GenMessageID generates an Anthropic-shaped message id.
func GenMessageID() string {
	return fmt.Sprintf("msg_%s", generateAlphanumeric(24))
}

// GenCompletionID generates an OpenAI-shaped chat completion id.
func GenCompletionID() string {
	return fmt.Sprintf("chatcmpl-%s", generateAlphanumeric(24))
}

// MapAnthropicStopReason maps an Anthropic stop_reason to the canonical set.
func MapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case AnthropicStopEndTurn:
		return FinishReasonStop
	case AnthropicStopStopSequence:
		return FinishReasonStopSequence
	case AnthropicStopMaxTokens:
		return FinishReasonMaxTokens
	case AnthropicStopToolUse:
		return FinishReasonToolCalls
	case AnthropicStopRefusal:
		return FinishReasonContentFilter
	default:
		return FinishReasonUnknown
	}
}

// MapFinishReasonToAnthropic is the inverse of MapAnthropicStopReason.
func MapFinishReasonToAnthropic(reason FinishReason) string {
	switch reason {
	case FinishReasonStop:
		return AnthropicStopEndTurn
	case FinishReasonStopSequence:
		return AnthropicStopStopSequence
	case FinishReasonMaxTokens:
		return AnthropicStopMaxTokens
	case FinishReasonToolCalls:
		return AnthropicStopToolUse
	case FinishReasonContentFilter:
		return AnthropicStopRefusal
	case FinishReasonError:
		return "error"
	default:
		return AnthropicStopEndTurn
	}
}

// MapOpenAIFinishReason maps an OpenAI finish_reason to the canonical set.
func MapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case OpenAIFinishStop:
		return FinishReasonStop
	case OpenAIFinishLength:
		return FinishReasonMaxTokens
	case OpenAIFinishToolCalls, "function_call":
		return FinishReasonToolCalls
	case OpenAIFinishContentFilter:
		return FinishReasonContentFilter
	default:
		return FinishReasonUnknown
	}
}

// MapFinishReasonToOpenAI is the inverse of MapOpenAIFinishReason.
func MapFinishReasonToOpenAI(reason FinishReason) string {
	switch reason {
	case FinishReasonMaxTokens:
		return OpenAIFinishLength
	case FinishReasonToolCalls:
		return OpenAIFinishToolCalls
	case FinishReasonContentFilter:
		return OpenAIFinishContentFilter
	default:
		return OpenAIFinishStop
	}
}

// ParseAnthropicUsage reads an Anthropic usage object into Usage.
func ParseAnthropicUsage(u gjson.Result) *Usage {
	if !u.Exists() {
		return nil
	}
	usage := &Usage{
		PromptTokens:             u.Get("input_tokens").Int(),
		CompletionTokens:         u.Get("output_tokens").Int(),
		CacheCreationInputTokens: u.Get("cache_creation_input_tokens").Int(),
		CacheReadInputTokens:     u.Get("cache_read_input_tokens").Int(),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// ParseOpenAIUsage reads an OpenAI usage object into Usage.
func ParseOpenAIUsage(u gjson.Result) *Usage {
	if !u.Exists() {
		return nil
	}
	usage := &Usage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
	if v := u.Get("prompt_tokens_details.cached_tokens"); v.Exists() {
		usage.CacheReadInputTokens = v.Int()
	}
	if v := u.Get("completion_tokens_details.reasoning_tokens"); v.Exists() {
		usage.ThoughtsTokenCount = v.Int()
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
