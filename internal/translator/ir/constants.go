package ir

// Wire string constants shared by the converters and serializers. Centralized
// here so provider mappings cannot drift apart on a typo.

// Anthropic SSE event types.
const (
	AnthropicSSEMessageStart      = "message_start"
	AnthropicSSEContentBlockStart = "content_block_start"
	AnthropicSSEContentBlockDelta = "content_block_delta"
	AnthropicSSEContentBlockStop  = "content_block_stop"
	AnthropicSSEMessageDelta      = "message_delta"
	AnthropicSSEMessageStop       = "message_stop"
	AnthropicSSEPing              = "ping"
	AnthropicSSEError             = "error"
)

// Anthropic content block types.
const (
	AnthropicBlockText             = "text"
	AnthropicBlockThinking         = "thinking"
	AnthropicBlockRedactedThinking = "redacted_thinking"
	AnthropicBlockToolUse          = "tool_use"
	AnthropicBlockServerToolUse    = "server_tool_use"
	AnthropicBlockMCPToolUse       = "mcp_tool_use"
)

// Anthropic delta types.
const (
	AnthropicDeltaText      = "text_delta"
	AnthropicDeltaThinking  = "thinking_delta"
	AnthropicDeltaSignature = "signature_delta"
	AnthropicDeltaInputJSON = "input_json_delta"
	AnthropicDeltaCitations = "citations_delta"
)

// Anthropic stop reasons.
const (
	AnthropicStopEndTurn      = "end_turn"
	AnthropicStopMaxTokens    = "max_tokens"
	AnthropicStopStopSequence = "stop_sequence"
	AnthropicStopToolUse      = "tool_use"
	AnthropicStopRefusal      = "refusal"
)

// OpenAI chunk finish reasons.
const (
	OpenAIFinishStop          = "stop"
	OpenAIFinishLength        = "length"
	OpenAIFinishToolCalls     = "tool_calls"
	OpenAIFinishContentFilter = "content_filter"
)

// Custom event kinds emitted by converters for parts the closed unified set
// has no first-class variant for. The kind strings follow the v3 stream-part
// vocabulary so they re-project across providers.
const (
	CustomKindToolCall         = "tool-call"
	CustomKindToolResult       = "tool-result"
	CustomKindSource           = "source"
	CustomKindReasoningStart   = "reasoning-start"
	CustomKindReasoningEnd     = "reasoning-end"
	CustomKindTextStart        = "text-start"
	CustomKindTextEnd          = "text-end"
	CustomKindThinkingSigDelta = "thinking-signature-delta"
	CustomKindResponseMetadata = "response-metadata"
)

// Provider ids used by the registry and the adapters.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)
