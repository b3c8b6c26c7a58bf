package from_ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

func serializeAll(t *testing.T, s ir.StreamSerializer, events ...ir.UnifiedEvent) string {
	t.Helper()
	var out strings.Builder
	for _, ev := range events {
		frame, err := s.Serialize(ev)
		if err != nil {
			t.Fatalf("Serialize(%v) failed: %v", ev.Type, err)
		}
		out.Write(frame)
	}
	return out.String()
}

// frameTypes extracts the "type" field of every data frame, in order.
func frameTypes(t *testing.T, wire string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(wire, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if !gjson.Valid(payload) {
			t.Fatalf("invalid frame payload: %q", payload)
		}
		types = append(types, gjson.Get(payload, "type").String())
	}
	return types
}

// ==================== Ordering Tests ====================

func TestAnthropicSerializer_FrameOrdering(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{MessageID: "msg_test", Model: "claude-sonnet-4"})

	idx := 0
	wire := serializeAll(t, s,
		ir.UnifiedEvent{Type: ir.EventTypeStreamStart, Meta: &ir.StreamMeta{MessageID: "msg_test", Model: "claude-sonnet-4"}},
		ir.UnifiedEvent{Type: ir.EventTypeContentDelta, Content: "Hello"},
		ir.UnifiedEvent{Type: ir.EventTypeToolCallDelta, ToolCall: &ir.ToolCallDelta{ID: "call_1", Name: "lookup", Index: &idx}},
		ir.UnifiedEvent{Type: ir.EventTypeToolCallDelta, ToolCall: &ir.ToolCallDelta{ID: "call_1", ArgsDelta: "{}"}},
		ir.UnifiedEvent{Type: ir.EventTypeStreamEnd, FinishReason: ir.FinishReasonToolCalls},
	)

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := frameTypes(t, wire)
	if len(got) != len(want) {
		t.Fatalf("frame types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestAnthropicSerializer_LazyMessageStart(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})

	// No StreamStart was ever fed; the first content frame must still be
	// preceded by message_start.
	wire := serializeAll(t, s, ir.UnifiedEvent{Type: ir.EventTypeContentDelta, Content: "hi"})
	got := frameTypes(t, wire)
	if len(got) < 2 || got[0] != "message_start" {
		t.Fatalf("frame types = %v, want message_start first", got)
	}
}

func TestAnthropicSerializer_NothingAfterEnd(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})
	serializeAll(t, s, ir.UnifiedEvent{Type: ir.EventTypeStreamEnd, FinishReason: ir.FinishReasonStop})

	frame, err := s.Serialize(ir.UnifiedEvent{Type: ir.EventTypeContentDelta, Content: "late"})
	if err != nil || frame != nil {
		t.Errorf("Serialize after end = %q, %v; want nil, nil", frame, err)
	}
}

func TestAnthropicSerializer_OnlyErrorFramesAreNamed(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})
	wire := serializeAll(t, s,
		ir.UnifiedEvent{Type: ir.EventTypeStreamStart},
		ir.UnifiedEvent{Type: ir.EventTypeContentDelta, Content: "x"},
		ir.UnifiedEvent{Type: ir.EventTypeError, Error: errors.New("upstream failed")},
		ir.UnifiedEvent{Type: ir.EventTypeStreamEnd, FinishReason: ir.FinishReasonError},
	)

	for _, line := range strings.Split(wire, "\n") {
		if strings.HasPrefix(line, "event: ") && line != "event: error" {
			t.Errorf("unexpected named frame %q", line)
		}
	}
	if !strings.Contains(wire, "event: error\ndata: ") {
		t.Error("error frame is not a named event")
	}
	errData := gjson.Get(extractNamedPayload(wire, "error"), "error.message").String()
	if errData != "upstream failed" {
		t.Errorf("error message = %q, want upstream failed", errData)
	}
}

func extractNamedPayload(wire, name string) string {
	marker := "event: " + name + "\ndata: "
	i := strings.Index(wire, marker)
	if i < 0 {
		return ""
	}
	rest := wire[i+len(marker):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// ==================== Usage Tests ====================

func TestAnthropicSerializer_UsageSurfacesOnTerminalDelta(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})
	wire := serializeAll(t, s,
		ir.UnifiedEvent{Type: ir.EventTypeUsageUpdate, Usage: &ir.Usage{PromptTokens: 9, CompletionTokens: 4}},
		ir.UnifiedEvent{Type: ir.EventTypeStreamEnd, FinishReason: ir.FinishReasonStop},
	)

	var messageDelta gjson.Result
	for _, line := range strings.Split(wire, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		parsed := gjson.Parse(strings.TrimPrefix(line, "data: "))
		if parsed.Get("type").String() == "message_delta" {
			messageDelta = parsed
		}
	}
	if !messageDelta.Exists() {
		t.Fatal("no message_delta frame")
	}
	if got := messageDelta.Get("usage.input_tokens").Int(); got != 9 {
		t.Errorf("input_tokens = %d, want 9", got)
	}
	if got := messageDelta.Get("usage.output_tokens").Int(); got != 4 {
		t.Errorf("output_tokens = %d, want 4", got)
	}
	if got := messageDelta.Get("delta.stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", got)
	}
}

// ==================== Cross-Provider Part Tests ====================

func TestAnthropicSerializer_CustomTextAndToolParts(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})
	wire := serializeAll(t, s,
		ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
			Kind: "text-delta", Data: []byte(`{"type":"text-delta","id":"0","delta":"Hi"}`),
		}},
		ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
			Kind: "tool-call", Data: []byte(`{"type":"tool-call","toolCallId":"call_9","toolName":"search","input":{"q":"go"}}`),
		}},
		ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
			Kind: "finish", Data: []byte(`{"type":"finish","finishReason":{"unified":"tool-calls"},"usage":{"inputTokens":{"total":7},"outputTokens":{"total":2}}}`),
		}},
	)

	if !strings.Contains(wire, `"text":"Hi"`) {
		t.Error("text-delta part did not render a text_delta frame")
	}
	if !strings.Contains(wire, `"id":"call_9"`) || !strings.Contains(wire, `"name":"search"`) {
		t.Error("tool-call part did not render a tool_use block start")
	}
	if !strings.Contains(wire, `\"q\":\"go\"`) {
		t.Error("tool-call input was not forwarded as partial_json")
	}
	if !strings.Contains(wire, `"stop_reason":"tool_use"`) {
		t.Error("finish part did not map tool-calls to tool_use")
	}
	if !strings.Contains(wire, `"input_tokens":7`) {
		t.Error("finish part usage missing from message_delta")
	}
	if !strings.Contains(wire, "message_stop") {
		t.Error("finish part did not terminate the stream")
	}
}

func TestAnthropicSerializer_ToolCallWithoutIDSynthesizesOne(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{})
	wire := serializeAll(t, s, ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
		Kind: "tool-call", Data: []byte(`{"type":"tool-call","toolName":"lookup","input":{"key":"x"}}`),
	}})

	if !strings.Contains(wire, `"id":"toolu_`) {
		t.Errorf("tool_use block missing a synthesized id: %q", wire)
	}
	if !strings.Contains(wire, `"name":"lookup"`) {
		t.Errorf("tool name missing: %q", wire)
	}
}

func TestAnthropicSerializer_UnsupportedPartDrop(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{UnsupportedParts: ir.UnsupportedPartDrop})
	frame, err := s.Serialize(ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
		Kind: "source", Data: []byte(`{"type":"source","sourceType":"url","url":"https://go.dev","title":"Go"}`),
	}})
	if err != nil || frame != nil {
		t.Errorf("dropped part produced %q, %v; want nil, nil", frame, err)
	}
}

func TestAnthropicSerializer_UnsupportedPartAsText(t *testing.T) {
	s := NewAnthropicSerializer(ir.SerializeOptions{UnsupportedParts: ir.UnsupportedPartAsText})

	wire := serializeAll(t, s,
		ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
			Kind: "source", Data: []byte(`{"type":"source","sourceType":"url","url":"https://go.dev","title":"Go"}`),
		}},
		ir.UnifiedEvent{Type: ir.EventTypeCustom, Custom: &ir.CustomEvent{
			Kind: "tool-result", Data: []byte(`{"type":"tool-result","toolName":"search","result":{"hits":1}}`),
		}},
	)
	if !strings.Contains(wire, `[source] Go https://go.dev`) {
		t.Errorf("source marker missing from %q", wire)
	}
	if !strings.Contains(wire, `[tool-result] search:`) {
		t.Errorf("tool-result marker missing from %q", wire)
	}
}

// ==================== Finish Mapping Tests ====================

func TestMapUnifiedFinishString(t *testing.T) {
	cases := []struct {
		unified string
		want    string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"max-tokens", "max_tokens"},
		{"tool-calls", "tool_use"},
		{"content-filter", "refusal"},
		{"safety", "refusal"},
		{"error", "error"},
		{"", ""},
		{"mystery", ""},
	}
	for _, tc := range cases {
		if got := mapUnifiedFinishString(tc.unified); got != tc.want {
			t.Errorf("mapUnifiedFinishString(%q) = %q, want %q", tc.unified, got, tc.want)
		}
	}
}
