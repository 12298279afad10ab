package modelmap

import (
	"bytes"
	"encoding/json"
)

// messageStartMarker is the substring every chunk is first scanned for;
// chunks lacking it pass straight through with zero parsing cost.
const messageStartMarker = "message_start"

// SSERewriter is a stateful, one-shot byte rewriter attached to a single
// streaming response: it rewrites the model field inside the first
// message_start event it observes, then becomes a no-op pass-through for
// the rest of the stream. Not goroutine-safe; one instance per response.
type SSERewriter struct {
	guestModel    string
	upstreamModel string
	onMismatch    func(upstreamReported string)
	done          bool
}

// NewSSERewriter builds a rewriter that substitutes guestModel for
// upstreamModel inside the stream's message_start event.
func NewSSERewriter(guestModel, upstreamModel string, onMismatch func(string)) *SSERewriter {
	return &SSERewriter{guestModel: guestModel, upstreamModel: upstreamModel, onMismatch: onMismatch}
}

// Rewrite processes one chunk of the upstream SSE body and returns the
// bytes to forward downstream. A chunk not containing the marker, or any
// chunk once the rewriter has already committed, is returned unchanged
// (all subsequent chunks pass through with zero overhead). The
// marker is only recognized when it appears complete within a single
// chunk; if it straddles two chunks, both pass through unmodified.
// Accepted: real upstream chunk sizes never fragment the leading event
// that finely in practice.
func (r *SSERewriter) Rewrite(chunk []byte) []byte {
	if r.done || !bytes.Contains(chunk, []byte(messageStartMarker)) {
		return chunk
	}

	lines := bytes.SplitAfter(chunk, []byte("\n"))
	for i, line := range lines {
		if !bytes.Contains(line, []byte(messageStartMarker)) {
			continue
		}
		rewritten, ok := r.rewriteDataLine(line)
		if !ok {
			continue
		}
		lines[i] = rewritten
		r.done = true
		break
	}
	return bytes.Join(lines, nil)
}

// rewriteDataLine rewrites a single `data: {...}` line carrying a
// message_start event, preserving the line's original trailing newline
// bytes exactly.
func (r *SSERewriter) rewriteDataLine(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimRight(line, "\r\n")
	ending := line[len(trimmed):]

	const prefix = "data:"
	idx := bytes.Index(trimmed, []byte(prefix))
	if idx == -1 {
		return nil, false
	}
	payload := bytes.TrimSpace(trimmed[idx+len(prefix):])

	var evt struct {
		Type    string `json:"type"`
		Message struct {
			Model string `json:"model"`
		} `json:"message"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Type != "message_start" {
		return nil, false
	}

	var generic map[string]any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, false
	}
	msg, ok := generic["message"].(map[string]any)
	if !ok {
		return nil, false
	}

	reported, _ := msg["model"].(string)
	if reported != r.upstreamModel && reported != r.guestModel {
		if r.onMismatch != nil {
			r.onMismatch(reported)
		}
		return nil, false
	}

	msg["model"] = r.guestModel
	newPayload, err := json.Marshal(generic)
	if err != nil {
		return nil, false
	}

	rebuilt := append([]byte(nil), trimmed[:idx]...)
	rebuilt = append(rebuilt, prefix...)
	rebuilt = append(rebuilt, ' ')
	rebuilt = append(rebuilt, newPayload...)
	rebuilt = append(rebuilt, ending...)
	return rebuilt, true
}

// Done reports whether the rewriter has already committed its substitution.
func (r *SSERewriter) Done() bool { return r.done }
