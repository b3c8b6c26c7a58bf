package from_ir

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

// OpenAISerializer renders unified events as OpenAI chat-completion chunks.
// Every frame is an anonymous data frame; the stream terminates with a
// finish_reason chunk followed by the [DONE] marker.
type OpenAISerializer struct {
	messageID string
	model     string
	created   int64

	toolSlotByID map[string]int
	nextToolSlot int

	latestUsage *ir.Usage
	unsupported ir.UnsupportedPartBehavior
	ended       bool
}

func NewOpenAISerializer(opts ir.SerializeOptions) *OpenAISerializer {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = ir.GenCompletionID()
	}
	model := opts.Model
	if model == "" {
		model = "unknown"
	}
	return &OpenAISerializer{
		messageID:    messageID,
		model:        model,
		created:      time.Now().Unix(),
		toolSlotByID: make(map[string]int),
		unsupported:  opts.UnsupportedParts,
	}
}

func (s *OpenAISerializer) Serialize(event ir.UnifiedEvent) ([]byte, error) {
	if s.ended {
		return nil, nil
	}

	switch event.Type {
	case ir.EventTypeStreamStart:
		if event.Meta != nil {
			if event.Meta.MessageID != "" {
				s.messageID = event.Meta.MessageID
			}
			if event.Meta.Model != "" {
				s.model = event.Meta.Model
			}
		}
		// The opening chunk carries the assistant role and no content.
		return s.chunk(map[string]any{"role": "assistant", "content": ""}, nil), nil

	case ir.EventTypeContentDelta:
		return s.chunk(map[string]any{"content": event.Content}, nil), nil

	case ir.EventTypeThinkingDelta:
		return s.chunk(map[string]any{"reasoning_content": event.Thinking}, nil), nil

	case ir.EventTypeToolCallDelta:
		if event.ToolCall == nil {
			return nil, nil
		}
		return s.toolChunk(event.ToolCall), nil

	case ir.EventTypeUsageUpdate:
		s.latestUsage = event.Usage
		return nil, nil

	case ir.EventTypeError:
		msg := "unknown error"
		if event.Error != nil {
			msg = event.Error.Error()
		}
		return dataFrame(map[string]any{
			"error": map[string]any{"message": msg, "type": "server_error"},
		}), nil

	case ir.EventTypeStreamEnd:
		return s.serializeEnd(event), nil

	case ir.EventTypeCustom:
		if event.Custom == nil {
			return nil, nil
		}
		return s.serializeCustom(event.Custom)

	default:
		return nil, nil
	}
}

func (s *OpenAISerializer) chunk(delta map[string]any, finishReason any) []byte {
	return dataFrame(map[string]any{
		"id":      s.messageID,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	})
}

func (s *OpenAISerializer) toolChunk(tc *ir.ToolCallDelta) []byte {
	slot, ok := s.toolSlotByID[tc.ID]
	if !ok {
		slot = s.nextToolSlot
		s.nextToolSlot++
		s.toolSlotByID[tc.ID] = slot
	}

	call := map[string]any{
		"index": slot,
		"type":  "function",
	}
	fn := map[string]any{}
	if tc.Name != "" {
		call["id"] = tc.ID
		fn["name"] = tc.Name
	}
	if tc.ArgsDelta != "" {
		fn["arguments"] = tc.ArgsDelta
	}
	call["function"] = fn

	return s.chunk(map[string]any{"tool_calls": []any{call}}, nil)
}

func (s *OpenAISerializer) serializeEnd(event ir.UnifiedEvent) []byte {
	reason := event.FinishReason
	if reason == "" && event.Response != nil {
		reason = event.Response.FinishReason
	}

	usage := s.latestUsage
	if event.Response != nil && event.Response.Usage != nil {
		usage = event.Response.Usage
	}
	return s.terminalFrames(ir.MapFinishReasonToOpenAI(reason), usage)
}

func (s *OpenAISerializer) terminalFrames(finishReason string, usage *ir.Usage) []byte {
	out := s.chunk(map[string]any{}, finishReason)

	if usage != nil {
		out = append(out, dataFrame(map[string]any{
			"id":      s.messageID,
			"object":  "chat.completion.chunk",
			"created": s.created,
			"model":   s.model,
			"choices": []any{},
			"usage": map[string]any{
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
				"total_tokens":      usage.TotalTokens,
			},
		})...)
	}

	out = append(out, "data: [DONE]\n\n"...)
	s.ended = true
	return out
}

func (s *OpenAISerializer) serializeCustom(custom *ir.CustomEvent) ([]byte, error) {
	data := gjson.ParseBytes(custom.Data)
	kind := custom.Kind
	if kind == "" {
		kind = data.Get("type").String()
	}

	switch kind {
	case "text-delta":
		if delta := data.Get("delta").String(); delta != "" {
			return s.chunk(map[string]any{"content": delta}, nil), nil
		}
		return nil, nil

	case "reasoning-delta":
		if delta := data.Get("delta").String(); delta != "" {
			return s.chunk(map[string]any{"reasoning_content": delta}, nil), nil
		}
		return nil, nil

	case "tool-input-start":
		id := data.Get("id").String()
		if id == "" {
			return nil, nil
		}
		return s.toolChunk(&ir.ToolCallDelta{
			ID:   id,
			Name: data.Get("toolName").String(),
		}), nil

	case "tool-input-delta":
		id := data.Get("id").String()
		if id == "" {
			return nil, nil
		}
		return s.toolChunk(&ir.ToolCallDelta{
			ID:        id,
			ArgsDelta: data.Get("delta").String(),
		}), nil

	case ir.CustomKindToolCall:
		// A complete call needs no delta correlation, so a missing id can be
		// synthesized rather than dropping the part.
		id := data.Get("toolCallId").String()
		if id == "" {
			id = ir.GenToolCallID()
		}
		input := data.Get("input")
		args := input.String()
		if input.IsObject() || input.IsArray() {
			args = input.Raw
		}
		return s.toolChunk(&ir.ToolCallDelta{
			ID:        id,
			Name:      data.Get("toolName").String(),
			ArgsDelta: args,
		}), nil

	case "finish":
		fr := data.Get("finishReason")
		unified := fr.Get("unified").String()
		if unified == "" {
			unified = fr.String()
		}
		var usage *ir.Usage
		if u := data.Get("usage"); u.Exists() {
			usage = &ir.Usage{
				PromptTokens:     u.Get("inputTokens.total").Int(),
				CompletionTokens: u.Get("outputTokens.total").Int(),
			}
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return s.terminalFrames(mapUnifiedFinishToOpenAI(unified), usage), nil

	default:
		if s.unsupported != ir.UnsupportedPartAsText {
			return nil, nil
		}
		text := lossyPartText(kind, data)
		if text == "" {
			return nil, nil
		}
		return s.chunk(map[string]any{"content": text}, nil), nil
	}
}

func mapUnifiedFinishToOpenAI(unified string) string {
	switch mapUnifiedFinishString(unified) {
	case ir.AnthropicStopMaxTokens:
		return ir.OpenAIFinishLength
	case ir.AnthropicStopToolUse:
		return ir.OpenAIFinishToolCalls
	case ir.AnthropicStopRefusal:
		return ir.OpenAIFinishContentFilter
	default:
		return ir.OpenAIFinishStop
	}
}
