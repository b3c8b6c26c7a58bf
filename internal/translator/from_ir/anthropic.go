package from_ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/json"
	"github.com/inferkit/inferkit/internal/translator/ir"
)

// AnthropicSerializer renders unified events back into Anthropic wire bytes.
// Block indices are allocated on first use per logical block, so the ordering
// invariants hold regardless of input event order: message_start first, every
// block's start before its deltas and stop, all stops before the terminal
// message_delta/message_stop pair, and only error frames carry an event name.
type AnthropicSerializer struct {
	messageID string
	model     string

	messageStartEmitted bool
	ended               bool

	nextBlockIndex     int
	textBlockIndex     *int
	thinkingBlockIndex *int
	toolBlockIndexByID map[string]int
	startedIndices     []int

	latestUsage *ir.Usage
	unsupported ir.UnsupportedPartBehavior
}

func NewAnthropicSerializer(opts ir.SerializeOptions) *AnthropicSerializer {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = ir.GenMessageID()
	}
	model := opts.Model
	if model == "" {
		model = "unknown"
	}
	return &AnthropicSerializer{
		messageID:          messageID,
		model:              model,
		toolBlockIndexByID: make(map[string]int),
		unsupported:        opts.UnsupportedParts,
	}
}

func (s *AnthropicSerializer) Serialize(event ir.UnifiedEvent) ([]byte, error) {
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
		return s.ensureMessageStart(nil), nil

	case ir.EventTypeContentDelta:
		return s.serializeText(event.Content)

	case ir.EventTypeThinkingDelta:
		return s.serializeThinking(event.Thinking)

	case ir.EventTypeToolCallDelta:
		if event.ToolCall == nil {
			return nil, nil
		}
		return s.serializeToolCall(event.ToolCall)

	case ir.EventTypeUsageUpdate:
		// Stashed and surfaced on the terminal message_delta.
		s.latestUsage = event.Usage
		return nil, nil

	case ir.EventTypeError:
		msg := "unknown error"
		if event.Error != nil {
			msg = event.Error.Error()
		}
		return s.serializeError(msg)

	case ir.EventTypeStreamEnd:
		return s.serializeEnd(event)

	case ir.EventTypeCustom:
		if event.Custom == nil {
			return nil, nil
		}
		return s.serializeCustom(event.Custom)

	default:
		return nil, nil
	}
}

func (s *AnthropicSerializer) ensureMessageStart(out []byte) []byte {
	if s.messageStartEmitted {
		return out
	}
	s.messageStartEmitted = true
	frame := dataFrame(map[string]any{
		"type": ir.AnthropicSSEMessageStart,
		"message": map[string]any{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
	return append(out, frame...)
}

func (s *AnthropicSerializer) serializeText(text string) ([]byte, error) {
	out := s.ensureMessageStart(nil)

	if s.textBlockIndex == nil {
		idx := s.nextBlockIndex
		s.nextBlockIndex++
		s.textBlockIndex = &idx
	}
	idx := *s.textBlockIndex

	if !s.blockStarted(idx) {
		s.markStarted(idx)
		out = append(out, dataFrame(map[string]any{
			"type":          ir.AnthropicSSEContentBlockStart,
			"index":         idx,
			"content_block": map[string]any{"type": ir.AnthropicBlockText, "text": ""},
		})...)
	}

	out = append(out, dataFrame(map[string]any{
		"type":  ir.AnthropicSSEContentBlockDelta,
		"index": idx,
		"delta": map[string]any{"type": ir.AnthropicDeltaText, "text": text},
	})...)
	return out, nil
}

func (s *AnthropicSerializer) serializeThinking(thinking string) ([]byte, error) {
	out := s.ensureMessageStart(nil)

	if s.thinkingBlockIndex == nil {
		idx := s.nextBlockIndex
		s.nextBlockIndex++
		s.thinkingBlockIndex = &idx
	}
	idx := *s.thinkingBlockIndex

	if !s.blockStarted(idx) {
		s.markStarted(idx)
		out = append(out, dataFrame(map[string]any{
			"type":          ir.AnthropicSSEContentBlockStart,
			"index":         idx,
			"content_block": map[string]any{"type": ir.AnthropicBlockThinking, "thinking": ""},
		})...)
	}

	out = append(out, dataFrame(map[string]any{
		"type":  ir.AnthropicSSEContentBlockDelta,
		"index": idx,
		"delta": map[string]any{"type": ir.AnthropicDeltaThinking, "thinking": thinking},
	})...)
	return out, nil
}

func (s *AnthropicSerializer) serializeToolCall(tc *ir.ToolCallDelta) ([]byte, error) {
	out := s.ensureMessageStart(nil)

	idx, ok := s.toolBlockIndexByID[tc.ID]
	if !ok {
		idx = s.nextBlockIndex
		s.nextBlockIndex++
		s.toolBlockIndexByID[tc.ID] = idx
	}

	if !s.blockStarted(idx) {
		s.markStarted(idx)
		name := tc.Name
		if name == "" {
			name = "tool"
		}
		out = append(out, dataFrame(map[string]any{
			"type":  ir.AnthropicSSEContentBlockStart,
			"index": idx,
			"content_block": map[string]any{
				"type":  ir.AnthropicBlockToolUse,
				"id":    tc.ID,
				"name":  name,
				"input": map[string]any{},
			},
		})...)
	}

	if tc.ArgsDelta != "" {
		out = append(out, dataFrame(map[string]any{
			"type":  ir.AnthropicSSEContentBlockDelta,
			"index": idx,
			"delta": map[string]any{"type": ir.AnthropicDeltaInputJSON, "partial_json": tc.ArgsDelta},
		})...)
	}
	return out, nil
}

// serializeError is the only path that emits a named SSE event.
func (s *AnthropicSerializer) serializeError(msg string) ([]byte, error) {
	payload := map[string]any{
		"type": ir.AnthropicSSEError,
		"error": map[string]any{
			"type":    "api_error",
			"message": msg,
		},
	}
	return eventFrame(ir.AnthropicSSEError, payload), nil
}

func (s *AnthropicSerializer) serializeEnd(event ir.UnifiedEvent) ([]byte, error) {
	resp := event.Response
	if resp != nil {
		if s.model == "unknown" && resp.Model != "" {
			s.model = resp.Model
		}
	}

	reason := event.FinishReason
	if reason == "" && resp != nil {
		reason = resp.FinishReason
	}

	usage := s.latestUsage
	if resp != nil && resp.Usage != nil {
		usage = resp.Usage
	}
	return s.terminalFrames(mapStopReason(reason), usage), nil
}

// terminalFrames closes every still-open block in ascending index order, then
// emits the message_delta/message_stop pair. The serializer accepts no frames
// afterwards.
func (s *AnthropicSerializer) terminalFrames(stopReason any, usage *ir.Usage) []byte {
	out := s.ensureMessageStart(nil)

	indices := append([]int(nil), s.startedIndices...)
	sort.Ints(indices)
	for _, idx := range indices {
		out = append(out, dataFrame(map[string]any{
			"type":  ir.AnthropicSSEContentBlockStop,
			"index": idx,
		})...)
	}
	s.startedIndices = nil
	s.textBlockIndex = nil
	s.thinkingBlockIndex = nil
	s.toolBlockIndexByID = make(map[string]int)

	usageObj := map[string]any{}
	if usage != nil {
		usageObj["input_tokens"] = usage.PromptTokens
		usageObj["output_tokens"] = usage.CompletionTokens
	}

	out = append(out, dataFrame(map[string]any{
		"type":  ir.AnthropicSSEMessageDelta,
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": usageObj,
	})...)
	out = append(out, dataFrame(map[string]any{"type": ir.AnthropicSSEMessageStop})...)

	s.ended = true
	return out
}

// serializeCustom re-projects a part produced by a different provider's
// converter. Structurally representable parts map onto text/thinking/tool
// frames; a terminal "finish" part synthesizes the full stop sequence;
// anything else follows the configured unsupported-part policy.
func (s *AnthropicSerializer) serializeCustom(custom *ir.CustomEvent) ([]byte, error) {
	data := gjson.ParseBytes(custom.Data)
	kind := custom.Kind
	if kind == "" {
		kind = data.Get("type").String()
	}

	switch kind {
	case "text-delta":
		if delta := data.Get("delta").String(); delta != "" {
			return s.serializeText(delta)
		}
		return nil, nil

	case "reasoning-delta":
		if delta := data.Get("delta").String(); delta != "" {
			return s.serializeThinking(delta)
		}
		return nil, nil

	case "tool-input-start":
		id := data.Get("id").String()
		if id == "" {
			return nil, nil
		}
		return s.serializeToolCall(&ir.ToolCallDelta{
			ID:   id,
			Name: data.Get("toolName").String(),
		})

	case "tool-input-delta":
		id := data.Get("id").String()
		if id == "" {
			return nil, nil
		}
		return s.serializeToolCall(&ir.ToolCallDelta{
			ID:        id,
			ArgsDelta: data.Get("delta").String(),
		})

	case ir.CustomKindToolCall:
		// A complete call needs no delta correlation, so a missing id can be
		// synthesized rather than dropping the part.
		id := data.Get("toolCallId").String()
		if id == "" {
			id = ir.GenAnthropicToolCallID()
		}
		input := data.Get("input")
		args := input.String()
		if input.IsObject() || input.IsArray() {
			args = input.Raw
		}
		return s.serializeToolCall(&ir.ToolCallDelta{
			ID:        id,
			Name:      data.Get("toolName").String(),
			ArgsDelta: args,
		})

	case "finish":
		return s.customFinishFrames(data), nil

	default:
		return s.unsupportedPart(kind, data)
	}
}

func (s *AnthropicSerializer) customFinishFrames(data gjson.Result) []byte {
	var stopReason any
	fr := data.Get("finishReason")
	unified := fr.Get("unified").String()
	if unified == "" {
		unified = fr.String()
	}
	if mapped := mapUnifiedFinishString(unified); mapped != "" {
		stopReason = mapped
	}

	var usage *ir.Usage
	if u := data.Get("usage"); u.Exists() {
		usage = &ir.Usage{
			PromptTokens:     u.Get("inputTokens.total").Int(),
			CompletionTokens: u.Get("outputTokens.total").Int(),
		}
	}
	return s.terminalFrames(stopReason, usage)
}

func (s *AnthropicSerializer) unsupportedPart(kind string, data gjson.Result) ([]byte, error) {
	if s.unsupported != ir.UnsupportedPartAsText {
		return nil, nil
	}
	text := lossyPartText(kind, data)
	if text == "" {
		return nil, nil
	}
	return s.serializeText(text)
}

// lossyPartText renders a part that has no wire representation as a visible
// inline marker. Parts with no meaningful text form stay dropped.
func lossyPartText(kind string, data gjson.Result) string {
	switch kind {
	case ir.CustomKindSource:
		title := data.Get("title").String()
		if url := data.Get("url").String(); url != "" {
			if title == "" {
				title = "url"
			}
			return fmt.Sprintf("[source] %s %s", title, url)
		}
		if title != "" {
			mediaType := data.Get("mediaType").String()
			if mediaType != "" {
				return fmt.Sprintf("[source] %s (%s)", title, mediaType)
			}
			return fmt.Sprintf("[source] %s", title)
		}
		return ""
	case ir.CustomKindToolResult:
		name := data.Get("toolName").String()
		result := data.Get("result").Raw
		if result == "" {
			result = "{}"
		}
		return fmt.Sprintf("[tool-result] %s: %s", name, result)
	case "raw":
		if raw := data.Get("rawValue"); raw.Exists() {
			return fmt.Sprintf("[raw] %s", raw.Raw)
		}
		return ""
	default:
		return ""
	}
}

func (s *AnthropicSerializer) blockStarted(idx int) bool {
	for _, started := range s.startedIndices {
		if started == idx {
			return true
		}
	}
	return false
}

func (s *AnthropicSerializer) markStarted(idx int) {
	s.startedIndices = append(s.startedIndices, idx)
}

func mapStopReason(reason ir.FinishReason) any {
	switch reason {
	case ir.FinishReasonUnknown, "":
		return nil
	default:
		return ir.MapFinishReasonToAnthropic(reason)
	}
}

// mapUnifiedFinishString maps a loose v3 unified finish-reason string to an
// Anthropic stop reason, or "" when it has no equivalent.
func mapUnifiedFinishString(unified string) string {
	u := strings.ToLower(strings.TrimSpace(unified))
	switch {
	case u == "":
		return ""
	case strings.Contains(u, "length") || strings.Contains(u, "max"):
		return ir.AnthropicStopMaxTokens
	case strings.Contains(u, "tool"):
		return ir.AnthropicStopToolUse
	case strings.Contains(u, "stop"):
		return ir.AnthropicStopEndTurn
	case strings.Contains(u, "safety") || strings.Contains(u, "content") || strings.Contains(u, "refusal"):
		return ir.AnthropicStopRefusal
	case strings.Contains(u, "error"):
		return "error"
	default:
		return ""
	}
}

// dataFrame builds an anonymous SSE data frame. Frame assembly runs once per
// streamed event, so the builders are pooled.
func dataFrame(payload map[string]any) []byte {
	body, _ := json.Marshal(payload)
	b := ir.GetStringBuilder()
	defer ir.PutStringBuilder(b)
	b.Grow(len(body) + 8)
	b.WriteString("data: ")
	b.Write(body)
	b.WriteString("\n\n")
	return []byte(b.String())
}

// eventFrame builds a named SSE frame. Only error frames use this.
func eventFrame(name string, payload map[string]any) []byte {
	body, _ := json.Marshal(payload)
	b := ir.GetStringBuilder()
	defer ir.PutStringBuilder(b)
	b.Grow(len(body) + len(name) + 16)
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\ndata: ")
	b.Write(body)
	b.WriteString("\n\n")
	return []byte(b.String())
}
