package reasoning

import "encoding/json"

// contentBlockStart is the subset of an Anthropic content_block_start event
// this package needs to decide whether a block is a reasoning block.
type contentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
	} `json:"content_block"`
}

type contentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Data string `json:"data"`
	} `json:"delta"`
}

type contentBlockStop struct {
	Index int `json:"index"`
}

// usageFields is the subset of a message_start/message_delta event's usage
// object this package reads for cost estimation.
type usageFields struct {
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type messageStartEvent struct {
	Message usageFields `json:"message"`
}

// RegisterFromResponseBody parses a complete (non-streaming) Anthropic
// response body and registers any reasoning items found in its top-level
// content array. Malformed bodies
// are ignored rather than failing response delivery to the client.
func RegisterFromResponseBody(registry *Registry, body []byte) {
	var parsed struct {
		Content []any `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	registry.RegisterFromResponse(parsed.Content)
}

// StreamAccumulator tracks in-flight reasoning blocks across an SSE stream
// and registers each one, fully accumulated, exactly once at its
// content_block_stop. It is not
// goroutine-safe; one instance per in-flight response.
type StreamAccumulator struct {
	registry *Registry
	active   map[int]*accumulatingBlock

	inputTokens  int
	outputTokens int
}

type accumulatingBlock struct {
	typ     string
	builder []byte
}

// NewStreamAccumulator builds an accumulator that registers completed
// blocks into registry.
func NewStreamAccumulator(registry *Registry) *StreamAccumulator {
	return &StreamAccumulator{registry: registry, active: make(map[int]*accumulatingBlock)}
}

// HandleEvent processes one decoded SSE event (eventType, data). Unknown
// event types are ignored. Malformed JSON is ignored; the accumulator never
// fails the stream.
func (a *StreamAccumulator) HandleEvent(eventType string, data []byte) {
	switch eventType {
	case "message_start":
		var evt messageStartEvent
		if err := json.Unmarshal(data, &evt); err == nil && evt.Message.Usage.InputTokens > 0 {
			a.inputTokens = evt.Message.Usage.InputTokens
		}

	case "message_delta":
		var evt usageFields
		if err := json.Unmarshal(data, &evt); err == nil && evt.Usage.OutputTokens > 0 {
			a.outputTokens = evt.Usage.OutputTokens
		}

	case "content_block_start":
		var evt contentBlockStart
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		if !isReasoningType(evt.ContentBlock.Type) {
			return
		}
		a.active[evt.Index] = &accumulatingBlock{typ: evt.ContentBlock.Type}

	case "content_block_delta":
		var evt contentBlockDelta
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		blk, ok := a.active[evt.Index]
		if !ok {
			return
		}
		switch evt.Delta.Type {
		case "thinking_delta", "text_delta":
			blk.builder = append(blk.builder, evt.Delta.Text...)
		case "signature_delta":
			// signature deltas carry no hashable content
		default:
			if evt.Delta.Data != "" {
				blk.builder = append(blk.builder, evt.Delta.Data...)
			}
		}

	case "content_block_stop":
		var evt contentBlockStop
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		blk, ok := a.active[evt.Index]
		if !ok {
			return
		}
		delete(a.active, evt.Index)
		// Never register a partial block: only a matched stop reaches here.
		a.registry.RegisterBlock(blk.typ, string(blk.builder))
	}
}

// Usage returns the input/output token counts observed so far, read from
// message_start and message_delta events. Either may be zero if the
// corresponding event has not arrived yet.
func (a *StreamAccumulator) Usage() (inputTokens, outputTokens int) {
	return a.inputTokens, a.outputTokens
}
