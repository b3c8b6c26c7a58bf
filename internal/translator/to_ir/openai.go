package to_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/translator/ir"
	"github.com/inferkit/inferkit/internal/util"
)

// OpenAIConverter normalizes an OpenAI chat-completion chunk stream into
// unified events. The wire protocol is flatter than Anthropic's: one choice
// delta per chunk, tool calls keyed by array index with the id carried only on
// the first fragment.
type OpenAIConverter struct {
	toolIDByIndex map[int]string
	argsByID      map[string]*strings.Builder

	content strings.Builder

	messageID string
	model     string

	usage        *ir.Usage
	finishReason string
	started      bool
	seenError    bool
	finalized    bool
}

func NewOpenAIConverter(opts ir.ConvertOptions) *OpenAIConverter {
	_ = opts // no document resolution on this protocol
	return &OpenAIConverter{
		toolIDByIndex: make(map[int]string),
		argsByID:      make(map[string]*strings.Builder),
	}
}

func (c *OpenAIConverter) Convert(line []byte) ([]ir.UnifiedEvent, error) {
	payload := ir.ExtractSSEData(line)
	if payload == nil {
		return nil, nil
	}
	if string(payload) == "[DONE]" {
		return nil, nil
	}

	parsed, err := ir.ParseAndValidateJSON(payload)
	if err != nil {
		return []ir.UnifiedEvent{{
			Type:  ir.EventTypeError,
			Error: fmt.Errorf("malformed stream event: %w", err),
		}}, nil
	}

	if errObj := parsed.Get("error"); errObj.Exists() {
		c.seenError = true
		msg := errObj.Get("message").String()
		if msg == "" {
			msg = errObj.Raw
		}
		return []ir.UnifiedEvent{{
			Type:  ir.EventTypeError,
			Error: fmt.Errorf("%s", msg),
		}}, nil
	}

	var events []ir.UnifiedEvent

	if !c.started {
		c.started = true
		c.messageID = parsed.Get("id").String()
		c.model = parsed.Get("model").String()
		events = append(events, ir.UnifiedEvent{
			Type: ir.EventTypeStreamStart,
			Meta: &ir.StreamMeta{MessageID: c.messageID, Model: c.model},
		})
	}

	if choice := parsed.Get("choices.0"); choice.Exists() {
		events = append(events, c.onChoice(choice)...)
	}

	if u := ir.ParseOpenAIUsage(parsed.Get("usage")); u != nil {
		if c.usage == nil {
			c.usage = &ir.Usage{}
		}
		c.usage.Merge(u)
		events = append(events, ir.UnifiedEvent{
			Type:  ir.EventTypeUsageUpdate,
			Usage: u,
		})
	}

	return events, nil
}

func (c *OpenAIConverter) onChoice(choice gjson.Result) []ir.UnifiedEvent {
	var events []ir.UnifiedEvent
	delta := choice.Get("delta")

	if text := delta.Get("content").String(); text != "" {
		c.content.WriteString(text)
		events = append(events, ir.UnifiedEvent{
			Type:    ir.EventTypeContentDelta,
			Content: text,
			Index:   int(choice.Get("index").Int()),
		})
	}

	if thinking := delta.Get("reasoning_content").String(); thinking != "" {
		events = append(events, ir.UnifiedEvent{
			Type:     ir.EventTypeThinkingDelta,
			Thinking: thinking,
		})
	}

	for _, call := range delta.Get("tool_calls").Array() {
		idx := int(call.Get("index").Int())
		id := call.Get("id").String()
		if id != "" {
			c.toolIDByIndex[idx] = id
			if c.argsByID[id] == nil {
				c.argsByID[id] = &strings.Builder{}
			}
		} else {
			id = c.toolIDByIndex[idx]
		}
		if id == "" {
			continue
		}

		i := idx
		tc := &ir.ToolCallDelta{ID: id, Index: &i}
		if name := call.Get("function.name").String(); name != "" {
			tc.Name = name
		}
		if args := call.Get("function.arguments").String(); args != "" {
			tc.ArgsDelta = args
			if buf := c.argsByID[id]; buf != nil {
				buf.WriteString(args)
			}
		}
		events = append(events, ir.UnifiedEvent{
			Type:     ir.EventTypeToolCallDelta,
			ToolCall: tc,
		})
	}

	if reason := choice.Get("finish_reason").String(); reason != "" {
		c.finishReason = reason
	}
	return events
}

func (c *OpenAIConverter) Finalize() []ir.UnifiedEvent {
	if c.finalized {
		return nil
	}
	c.finalized = true

	reason := ir.FinishReasonUnknown
	switch {
	case c.seenError:
		reason = ir.FinishReasonError
	case c.finishReason != "":
		reason = ir.MapOpenAIFinishReason(c.finishReason)
	}

	usage := c.usage
	if usage == nil && c.content.Len() > 0 {
		// Some gateways omit the usage chunk entirely; estimate so callers
		// always get token accounting on the aggregate.
		usage = util.EstimateUsage(c.model, "", c.content.String())
	}

	resp := &ir.AggregatedResponse{
		ID:           c.messageID,
		Model:        c.model,
		Content:      c.content.String(),
		FinishReason: reason,
		Usage:        usage,
	}
	return []ir.UnifiedEvent{{
		Type:         ir.EventTypeStreamEnd,
		Response:     resp,
		FinishReason: reason,
	}}
}
