// Package ir defines the provider-agnostic streaming event vocabulary that
// every wire protocol is normalized into, and the converter/serializer
// capability interfaces implemented once per provider.
package ir

import (
	"github.com/inferkit/inferkit/internal/json"
)

type EventType string

const (
	EventTypeStreamStart   EventType = "stream_start"
	EventTypeContentDelta  EventType = "content_delta"
	EventTypeThinkingDelta EventType = "thinking_delta"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeUsageUpdate   EventType = "usage_update"
	EventTypeCustom        EventType = "custom"
	EventTypeError         EventType = "error"
	EventTypeStreamEnd     EventType = "stream_end"
)

type FinishReason string

// Canonical finish reasons. Provider wire values are mapped to and from these
// in MapXxxFinishReason / MapFinishReasonToXxx.
const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonMaxTokens     FinishReason = "max_tokens"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonStopSequence  FinishReason = "stop_sequence"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// StreamMeta carries message-level identity from the opening wire frame.
type StreamMeta struct {
	MessageID string
	Model     string
}

// ToolCallDelta is one fragment of a streamed tool invocation. The first
// fragment for a call carries the name; later fragments carry only ArgsDelta.
type ToolCallDelta struct {
	ID        string
	Name      string
	ArgsDelta string
	Index     *int
}

// CustomEvent is a provider-specific extension event (tool-result, source,
// thinking-signature-delta, ...). Data is the raw JSON payload.
type CustomEvent struct {
	Kind string
	Data json.RawMessage
}

// UnifiedEvent is one normalized streaming event. Exactly one of the payload
// fields is populated, selected by Type.
type UnifiedEvent struct {
	Type         EventType
	Meta         *StreamMeta
	Content      string
	Index        int
	Thinking     string
	ToolCall     *ToolCallDelta
	Usage        *Usage
	Custom       *CustomEvent
	Error        error
	Response     *AggregatedResponse
	FinishReason FinishReason
}

// Usage tracks token accounting reported by the provider.
type Usage struct {
	PromptTokens             int64
	CompletionTokens         int64
	TotalTokens              int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	ThoughtsTokenCount       int64
}

// Merge folds a later usage report into u, field by field. Providers report
// usage incrementally (input tokens at message start, output tokens at the
// end), so newer non-zero values win.
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	if other.PromptTokens > 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.CompletionTokens > 0 {
		u.CompletionTokens = other.CompletionTokens
	}
	if other.CacheCreationInputTokens > 0 {
		u.CacheCreationInputTokens = other.CacheCreationInputTokens
	}
	if other.CacheReadInputTokens > 0 {
		u.CacheReadInputTokens = other.CacheReadInputTokens
	}
	if other.ThoughtsTokenCount > 0 {
		u.ThoughtsTokenCount = other.ThoughtsTokenCount
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// SourceRecord is one normalized citation/search source accumulated during a
// stream and surfaced in the aggregated response metadata.
type SourceRecord struct {
	ID         string `json:"id"`
	Type       string `json:"sourceType"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
	Filename   string `json:"filename,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// DocumentRef identifies one caller-supplied document that citation deltas
// resolve against by index.
type DocumentRef struct {
	Title     string
	Filename  string
	MediaType string
}

// AggregatedResponse is assembled by the converter finalizer from everything
// accumulated over one stream.
type AggregatedResponse struct {
	ID               string
	Model            string
	Content          string
	FinishReason     FinishReason
	Usage            *Usage
	ProviderMetadata map[string]any
}

// UnsupportedPartBehavior selects what a serializer does with a cross-provider
// custom part it has no wire representation for.
type UnsupportedPartBehavior int

const (
	// UnsupportedPartDrop silently discards the part.
	UnsupportedPartDrop UnsupportedPartBehavior = iota

	// UnsupportedPartAsText renders the part as an inline text marker so its
	// presence stays visible downstream.
	UnsupportedPartAsText
)

// ConvertOptions configures a converter for one stream.
type ConvertOptions struct {
	// Documents is the caller-supplied list citation deltas resolve against
	// by document index.
	Documents []DocumentRef
}

// SerializeOptions configures a serializer for one stream.
type SerializeOptions struct {
	MessageID        string
	Model            string
	UnsupportedParts UnsupportedPartBehavior
}

// StreamConverter is the per-provider wire-to-unified state machine. One
// instance serves exactly one stream: Convert is fed one wire event at a
// time, and Finalize is invoked once by the caller at end of stream.
type StreamConverter interface {
	// Convert consumes one wire event (a raw SSE data payload, or a full
	// SSE line) and returns zero or more unified events.
	Convert(line []byte) ([]UnifiedEvent, error)

	// Finalize closes out accumulated state. It returns at most one
	// StreamEnd event; nil if a terminal event was already emitted.
	Finalize() []UnifiedEvent
}

// StreamSerializer is the inverse capability: unified events back to
// provider-correct wire bytes. Like converters, one instance per stream.
type StreamSerializer interface {
	Serialize(event UnifiedEvent) ([]byte, error)
}
