package to_ir

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/json"
	"github.com/inferkit/inferkit/internal/translator/ir"
	"github.com/inferkit/inferkit/internal/util"
)

// AnthropicConverter normalizes an Anthropic SSE stream into unified events.
// One instance serves exactly one stream: content blocks are tracked by index
// because text, thinking and tool blocks can be open concurrently, and tool
// argument fragments arrive split across many input_json_delta frames.
type AnthropicConverter struct {
	docs []ir.DocumentRef

	blockTypeByIndex map[int]string
	toolIDByIndex    map[int]string
	toolNameByID     map[string]string
	mcpServerByID    map[string]string
	argsByID         map[string]*strings.Builder

	signatureByIndex map[int]*strings.Builder
	redactedByIndex  map[int]string
	sourcesByID      map[string]ir.SourceRecord

	content strings.Builder

	messageID    string
	model        string
	stopSequence string

	usage      *ir.Usage
	stopReason string
	seenStop   bool
	seenError  bool
	finalized  bool
}

// NewAnthropicConverter builds a converter for a single stream.
func NewAnthropicConverter(opts ir.ConvertOptions) *AnthropicConverter {
	return &AnthropicConverter{
		docs:             opts.Documents,
		blockTypeByIndex: make(map[int]string),
		toolIDByIndex:    make(map[int]string),
		toolNameByID:     make(map[string]string),
		mcpServerByID:    make(map[string]string),
		argsByID:         make(map[string]*strings.Builder),
		signatureByIndex: make(map[int]*strings.Builder),
		redactedByIndex:  make(map[int]string),
		sourcesByID:      make(map[string]ir.SourceRecord),
	}
}

// Convert consumes one SSE line (or bare data payload) and returns the unified
// events it produces. A malformed payload yields one Error event for that wire
// event only; the stream itself keeps going.
func (c *AnthropicConverter) Convert(line []byte) ([]ir.UnifiedEvent, error) {
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

	switch parsed.Get("type").String() {
	case ir.AnthropicSSEMessageStart:
		return c.onMessageStart(parsed), nil
	case ir.AnthropicSSEContentBlockStart:
		return c.onBlockStart(parsed), nil
	case ir.AnthropicSSEContentBlockDelta:
		return c.onBlockDelta(parsed), nil
	case ir.AnthropicSSEContentBlockStop:
		return c.onBlockStop(parsed), nil
	case ir.AnthropicSSEMessageDelta:
		c.onMessageDelta(parsed)
		return nil, nil
	case ir.AnthropicSSEMessageStop:
		c.seenStop = true
		if c.stopReason == "" {
			c.stopReason = ir.AnthropicStopEndTurn
		}
		return nil, nil
	case ir.AnthropicSSEError:
		return c.onError(parsed), nil
	case ir.AnthropicSSEPing:
		return nil, nil
	default:
		// Unrecognized event types are an explicit no-op.
		return nil, nil
	}
}

// Finalize closes out the stream. It is invoked explicitly by the caller at
// end of stream and returns exactly one StreamEnd; an error event seen earlier
// forces the finish reason regardless of any later stop frame.
func (c *AnthropicConverter) Finalize() []ir.UnifiedEvent {
	if c.finalized {
		return nil
	}
	c.finalized = true

	reason := ir.FinishReasonUnknown
	switch {
	case c.seenError:
		reason = ir.FinishReasonError
	case c.stopReason != "":
		reason = ir.MapAnthropicStopReason(c.stopReason)
	}

	usage := c.usage
	if usage == nil && c.content.Len() > 0 {
		usage = util.EstimateUsage(c.model, "", c.content.String())
	}

	resp := &ir.AggregatedResponse{
		ID:               c.messageID,
		Model:            c.model,
		Content:          c.content.String(),
		FinishReason:     reason,
		Usage:            usage,
		ProviderMetadata: c.buildProviderMetadata(),
	}
	return []ir.UnifiedEvent{{
		Type:         ir.EventTypeStreamEnd,
		Response:     resp,
		FinishReason: reason,
	}}
}

func (c *AnthropicConverter) onMessageStart(parsed gjson.Result) []ir.UnifiedEvent {
	message := parsed.Get("message")
	if !message.Exists() {
		return nil
	}
	c.messageID = message.Get("id").String()
	c.model = message.Get("model").String()
	if u := ir.ParseAnthropicUsage(message.Get("usage")); u != nil {
		c.mergeUsage(u)
	}

	events := []ir.UnifiedEvent{{
		Type: ir.EventTypeStreamStart,
		Meta: &ir.StreamMeta{MessageID: c.messageID, Model: c.model},
	}}
	if c.messageID != "" && c.model != "" {
		events = append(events, customEvent(ir.CustomKindResponseMetadata, map[string]any{
			"type":    "response-metadata",
			"id":      c.messageID,
			"modelId": c.model,
		}))
	}
	return events
}

func (c *AnthropicConverter) onBlockStart(parsed gjson.Result) []ir.UnifiedEvent {
	block := parsed.Get("content_block")
	if !block.Exists() {
		return nil
	}
	idx := int(parsed.Get("index").Int())
	blockType := block.Get("type").String()
	c.blockTypeByIndex[idx] = blockType

	switch blockType {
	case ir.AnthropicBlockText:
		return []ir.UnifiedEvent{customEvent(ir.CustomKindTextStart, map[string]any{
			"type": "text-start",
			"id":   strconv.Itoa(idx),
		})}

	case ir.AnthropicBlockThinking:
		return []ir.UnifiedEvent{customEvent(ir.CustomKindReasoningStart, map[string]any{
			"type":              "reasoning-start",
			"contentBlockIndex": idx,
		})}

	case ir.AnthropicBlockRedactedThinking:
		data := block.Get("data").String()
		if data != "" {
			c.redactedByIndex[idx] = data
		}
		payload := map[string]any{
			"type":              "reasoning-start",
			"contentBlockIndex": idx,
		}
		if data != "" {
			payload["redactedData"] = data
		}
		return []ir.UnifiedEvent{customEvent(ir.CustomKindReasoningStart, payload)}

	case ir.AnthropicBlockToolUse:
		id := block.Get("id").String()
		name := block.Get("name").String()
		if id == "" || name == "" {
			return nil
		}
		c.toolIDByIndex[idx] = id
		c.toolNameByID[id] = name
		c.argsByID[id] = &strings.Builder{}
		i := idx
		return []ir.UnifiedEvent{{
			Type:     ir.EventTypeToolCallDelta,
			ToolCall: &ir.ToolCallDelta{ID: id, Name: name, Index: &i},
		}}

	case ir.AnthropicBlockServerToolUse:
		return c.onServerToolUse(idx, block)

	case ir.AnthropicBlockMCPToolUse:
		return c.onMCPToolUse(idx, block)

	default:
		if strings.HasSuffix(blockType, "_tool_result") {
			return c.onToolResult(idx, blockType, block)
		}
		return nil
	}
}

func (c *AnthropicConverter) onServerToolUse(idx int, block gjson.Result) []ir.UnifiedEvent {
	id := block.Get("id").String()
	name := block.Get("name").String()
	if id == "" || name == "" {
		return nil
	}
	c.toolIDByIndex[idx] = id
	c.toolNameByID[id] = name

	input := json.RawMessage(`{}`)
	if v := block.Get("input"); v.Exists() {
		input = json.RawMessage(v.Raw)
	}
	return []ir.UnifiedEvent{customEvent(ir.CustomKindToolCall, map[string]any{
		"type":              "tool-call",
		"toolCallId":        id,
		"toolName":          name,
		"input":             input,
		"providerExecuted":  true,
		"contentBlockIndex": idx,
	})}
}

func (c *AnthropicConverter) onMCPToolUse(idx int, block gjson.Result) []ir.UnifiedEvent {
	id := block.Get("id").String()
	name := block.Get("name").String()
	if id == "" || name == "" {
		return nil
	}
	c.toolIDByIndex[idx] = id
	c.toolNameByID[id] = name
	serverName := block.Get("server_name").String()
	if serverName != "" {
		c.mcpServerByID[id] = serverName
	}

	input := json.RawMessage(`{}`)
	if v := block.Get("input"); v.Exists() {
		input = json.RawMessage(v.Raw)
	}
	payload := map[string]any{
		"type":              "tool-call",
		"toolCallId":        id,
		"toolName":          name,
		"input":             input,
		"providerExecuted":  true,
		"dynamic":           true,
		"contentBlockIndex": idx,
	}
	if serverName != "" {
		payload["serverName"] = serverName
	}
	return []ir.UnifiedEvent{customEvent(ir.CustomKindToolCall, payload)}
}

// onToolResult handles the *_tool_result block-start family. The tool name is
// derived from the paired tool-use block by id, not re-stated on the wire.
func (c *AnthropicConverter) onToolResult(idx int, blockType string, block gjson.Result) []ir.UnifiedEvent {
	toolCallID := block.Get("tool_use_id").String()
	if toolCallID == "" {
		return nil
	}

	toolName := c.toolNameByID[toolCallID]
	if toolName == "" {
		switch blockType {
		case "tool_search_tool_result":
			toolName = "tool_search"
		case "bash_code_execution_tool_result", "text_editor_code_execution_tool_result":
			toolName = "code_execution"
		default:
			toolName = strings.TrimSuffix(blockType, "_tool_result")
		}
	}

	result := json.RawMessage(`null`)
	if v := block.Get("content"); v.Exists() {
		result = json.RawMessage(v.Raw)
	}

	payload := map[string]any{
		"type":              "tool-result",
		"toolCallId":        toolCallID,
		"toolName":          toolName,
		"result":            result,
		"providerExecuted":  true,
		"contentBlockIndex": idx,
	}
	if serverName := c.mcpServerByID[toolCallID]; serverName != "" {
		payload["serverName"] = serverName
	}
	events := []ir.UnifiedEvent{customEvent(ir.CustomKindToolResult, payload)}

	// Web search results also surface one source per entry.
	if blockType == "web_search_tool_result" {
		for i, item := range block.Get("content").Array() {
			url := item.Get("url").String()
			if url == "" {
				continue
			}
			src := ir.SourceRecord{
				ID:         fmt.Sprintf("%s:%d", toolCallID, i),
				Type:       "url",
				URL:        url,
				Title:      item.Get("title").String(),
				ToolCallID: toolCallID,
			}
			c.sourcesByID[src.ID] = src
			events = append(events, customEvent(ir.CustomKindSource, map[string]any{
				"type":       "source",
				"sourceType": "url",
				"id":         src.ID,
				"url":        src.URL,
				"title":      src.Title,
				"toolCallId": toolCallID,
			}))
		}
	}
	return events
}

func (c *AnthropicConverter) onBlockDelta(parsed gjson.Result) []ir.UnifiedEvent {
	delta := parsed.Get("delta")
	if !delta.Exists() {
		return nil
	}
	idx := int(parsed.Get("index").Int())

	switch delta.Get("type").String() {
	case ir.AnthropicDeltaText:
		text := delta.Get("text").String()
		if text == "" {
			return nil
		}
		c.content.WriteString(text)
		return []ir.UnifiedEvent{{
			Type:    ir.EventTypeContentDelta,
			Content: text,
			Index:   idx,
		}}

	case ir.AnthropicDeltaThinking:
		thinking := delta.Get("thinking").String()
		if thinking == "" {
			return nil
		}
		return []ir.UnifiedEvent{{
			Type:     ir.EventTypeThinkingDelta,
			Thinking: thinking,
		}}

	case ir.AnthropicDeltaSignature:
		sig := delta.Get("signature").String()
		if sig == "" || c.blockTypeByIndex[idx] != ir.AnthropicBlockThinking {
			return nil
		}
		buf := c.signatureByIndex[idx]
		if buf == nil {
			buf = &strings.Builder{}
			c.signatureByIndex[idx] = buf
		}
		buf.WriteString(sig)
		return []ir.UnifiedEvent{customEvent(ir.CustomKindThinkingSigDelta, map[string]any{
			"type":              "thinking-signature-delta",
			"contentBlockIndex": idx,
			"signatureDelta":    sig,
		})}

	case ir.AnthropicDeltaInputJSON:
		fragment := delta.Get("partial_json").String()
		if fragment == "" {
			return nil
		}
		id := c.toolIDByIndex[idx]
		if id == "" {
			return nil
		}
		if buf := c.argsByID[id]; buf != nil {
			buf.WriteString(fragment)
		}
		i := idx
		return []ir.UnifiedEvent{{
			Type:     ir.EventTypeToolCallDelta,
			ToolCall: &ir.ToolCallDelta{ID: id, ArgsDelta: fragment, Index: &i},
		}}

	case ir.AnthropicDeltaCitations:
		return c.onCitation(delta.Get("citation"))

	default:
		return nil
	}
}

// onCitation resolves a citation delta against the caller-supplied document
// list by document_index and emits a source event.
func (c *AnthropicConverter) onCitation(citation gjson.Result) []ir.UnifiedEvent {
	if !citation.Exists() {
		return nil
	}
	kind := citation.Get("type").String()
	if kind != "page_location" && kind != "char_location" {
		return nil
	}
	docIndexVal := citation.Get("document_index")
	if !docIndexVal.Exists() {
		return nil
	}
	docIndex := int(docIndexVal.Int())
	if docIndex < 0 || docIndex >= len(c.docs) {
		return nil
	}
	doc := c.docs[docIndex]

	title := citation.Get("document_title").String()
	if title == "" {
		title = doc.Title
	}
	citedText := citation.Get("cited_text").String()

	var id string
	meta := map[string]any{"citedText": citedText}
	if kind == "page_location" {
		start := citation.Get("start_page_number").Int()
		end := citation.Get("end_page_number").Int()
		id = fmt.Sprintf("doc:%d:page:%d-%d", docIndex, start, end)
		meta["startPageNumber"] = start
		meta["endPageNumber"] = end
	} else {
		start := citation.Get("start_char_index").Int()
		end := citation.Get("end_char_index").Int()
		id = fmt.Sprintf("doc:%d:char:%d-%d", docIndex, start, end)
		meta["startCharIndex"] = start
		meta["endCharIndex"] = end
	}

	c.sourcesByID[id] = ir.SourceRecord{
		ID:        id,
		Type:      "document",
		Title:     title,
		MediaType: doc.MediaType,
		Filename:  doc.Filename,
	}

	payload := map[string]any{
		"type":       "source",
		"sourceType": "document",
		"id":         id,
		"title":      title,
		"anthropic":  meta,
	}
	if doc.MediaType != "" {
		payload["mediaType"] = doc.MediaType
	}
	if doc.Filename != "" {
		payload["filename"] = doc.Filename
	}
	return []ir.UnifiedEvent{customEvent(ir.CustomKindSource, payload)}
}

func (c *AnthropicConverter) onBlockStop(parsed gjson.Result) []ir.UnifiedEvent {
	idx := int(parsed.Get("index").Int())
	switch c.blockTypeByIndex[idx] {
	case ir.AnthropicBlockText:
		return []ir.UnifiedEvent{customEvent(ir.CustomKindTextEnd, map[string]any{
			"type": "text-end",
			"id":   strconv.Itoa(idx),
		})}
	case ir.AnthropicBlockThinking, ir.AnthropicBlockRedactedThinking:
		return []ir.UnifiedEvent{customEvent(ir.CustomKindReasoningEnd, map[string]any{
			"type":              "reasoning-end",
			"contentBlockIndex": idx,
		})}
	default:
		return nil
	}
}

// onMessageDelta folds usage and stop data into converter state. Nothing is
// emitted here; usage and finish data surface only at stream end.
func (c *AnthropicConverter) onMessageDelta(parsed gjson.Result) {
	if u := ir.ParseAnthropicUsage(parsed.Get("usage")); u != nil {
		c.mergeUsage(u)
	}
	delta := parsed.Get("delta")
	if reason := delta.Get("stop_reason").String(); reason != "" {
		c.stopReason = reason
		c.seenStop = true
	}
	if seq := delta.Get("stop_sequence").String(); seq != "" {
		c.stopSequence = seq
	}
}

func (c *AnthropicConverter) onError(parsed gjson.Result) []ir.UnifiedEvent {
	c.seenError = true
	msg := parsed.Get("error.message").String()
	if msg == "" {
		if raw := parsed.Get("error"); raw.Exists() {
			msg = "streaming error: " + raw.Raw
		} else {
			msg = "streaming error (unknown)"
		}
	}
	return []ir.UnifiedEvent{{
		Type:  ir.EventTypeError,
		Error: fmt.Errorf("%s", msg),
	}}
}

func (c *AnthropicConverter) mergeUsage(u *ir.Usage) {
	if c.usage == nil {
		c.usage = &ir.Usage{}
	}
	c.usage.Merge(u)
}

func (c *AnthropicConverter) buildProviderMetadata() map[string]any {
	meta := make(map[string]any)

	if sig := lowestIndexBuilder(c.signatureByIndex); sig != "" {
		meta["thinking_signature"] = sig
	}
	if data := lowestIndexString(c.redactedByIndex); data != "" {
		meta["redacted_thinking_data"] = data
	}
	if c.stopSequence != "" {
		meta["stop_sequence"] = c.stopSequence
	}
	if len(c.sourcesByID) > 0 {
		sources := make([]ir.SourceRecord, 0, len(c.sourcesByID))
		for _, src := range c.sourcesByID {
			sources = append(sources, src)
		}
		sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
		meta["sources"] = sources
	}

	if len(meta) == 0 {
		return nil
	}
	return map[string]any{ir.ProviderAnthropic: meta}
}

func lowestIndexBuilder(m map[int]*strings.Builder) string {
	best := -1
	for idx, buf := range m {
		if buf == nil || buf.Len() == 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
		}
	}
	if best < 0 {
		return ""
	}
	return m[best].String()
}

func lowestIndexString(m map[int]string) string {
	best := -1
	for idx, s := range m {
		if s == "" {
			continue
		}
		if best < 0 || idx < best {
			best = idx
		}
	}
	if best < 0 {
		return ""
	}
	return m[best]
}

func customEvent(kind string, payload map[string]any) ir.UnifiedEvent {
	data, _ := json.Marshal(payload)
	return ir.UnifiedEvent{
		Type:   ir.EventTypeCustom,
		Custom: &ir.CustomEvent{Kind: kind, Data: data},
	}
}
