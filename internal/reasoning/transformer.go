package reasoning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/config"
)

// Stats describes what a Transformer did to one outbound request.
type Stats struct {
	ItemsRemoved int
}

// RequestContext carries request-scoped data a Transformer variant may need.
type RequestContext struct {
	Ctx context.Context
}

// Transformer is the polymorphic Reasoning Transformer: strip or
// summarize, selected by reasoning.mode, hot-swappable.
type Transformer interface {
	Name() string
	TransformRequest(body map[string]any, rc RequestContext) (changed bool, stats Stats, err error)
	OnBackendSwitch(from, to string)
}

// NewTransformer builds the variant named by mode ("strip" or "summarize").
// Unrecognized modes, and "summarize" with a nil summarize config, fall
// back to strip; only one variant is ever active.
func NewTransformer(mode string, summarize *config.SummarizeConfig, registry *Registry) Transformer {
	if mode == "summarize" && summarize != nil {
		return NewSummarizeTransformer(summarize, registry)
	}
	return &StripTransformer{}
}

// StripTransformer removes all reasoning items and any context_management
// field.
type StripTransformer struct{}

func (s *StripTransformer) Name() string { return "strip" }

func (s *StripTransformer) TransformRequest(body map[string]any, _ RequestContext) (bool, Stats, error) {
	changed, removed := stripReasoningBlocks(body)
	if _, ok := body["context_management"]; ok {
		delete(body, "context_management")
		changed = true
	}
	return changed, Stats{ItemsRemoved: removed}, nil
}

func (s *StripTransformer) OnBackendSwitch(from, to string) {}

// stripReasoningBlocks removes thinking/redacted_thinking items from every
// message's content array. Returns whether anything changed and how many
// items were removed.
func stripReasoningBlocks(body map[string]any) (bool, int) {
	messages, ok := body["messages"].([]any)
	if !ok {
		return false, 0
	}
	changed := false
	removed := 0
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		items, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		kept := items[:0:0]
		for _, it := range items {
			item, ok := it.(map[string]any)
			if ok {
				if typ, _ := item["type"].(string); isReasoningType(typ) {
					changed = true
					removed++
					continue
				}
			}
			kept = append(kept, it)
		}
		if len(kept) != len(items) {
			msg["content"] = kept
		}
	}
	return changed, removed
}

const summaryWrapOpen = "[CONTEXT FROM PREVIOUS SESSION]"
const summaryWrapClose = "[/CONTEXT FROM PREVIOUS SESSION]"

// SummarizeTransformer is the summarize variant: snapshots history,
// prepends a pending summary to the first user message, and on backend
// switch asks a configured summarizer endpoint to produce the next one.
type SummarizeTransformer struct {
	cfg      *config.SummarizeConfig
	registry *Registry
	client   *http.Client

	mu             sync.Mutex
	lastMessages   []any
	pendingSummary string
}

// NewSummarizeTransformer builds a summarize variant bound to cfg.
func NewSummarizeTransformer(cfg *config.SummarizeConfig, registry *Registry) *SummarizeTransformer {
	return &SummarizeTransformer{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *SummarizeTransformer) Name() string { return "summarize" }

func (s *SummarizeTransformer) TransformRequest(body map[string]any, _ RequestContext) (bool, Stats, error) {
	s.mu.Lock()
	messages, _ := body["messages"].([]any)
	s.lastMessages = append([]any(nil), messages...)
	pending := s.pendingSummary
	s.pendingSummary = ""
	s.mu.Unlock()

	changed := false
	if pending != "" {
		if prependSummary(messages, pending) {
			changed = true
		}
	}

	stripChanged, removed := stripReasoningBlocks(body)
	if stripChanged {
		changed = true
	}
	return changed, Stats{ItemsRemoved: removed}, nil
}

// prependSummary wraps pending and prepends it to the first user message's
// text content, wrapping it in the CONTEXT FROM PREVIOUS SESSION marker.
func prependSummary(messages []any, pending string) bool {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			msg["content"] = summaryWrapOpen + pending + summaryWrapClose + "\n\n" + content
			return true
		case []any:
			for _, it := range content {
				item, ok := it.(map[string]any)
				if !ok {
					continue
				}
				if typ, _ := item["type"].(string); typ != "text" {
					continue
				}
				text, _ := item["text"].(string)
				item["text"] = summaryWrapOpen + pending + summaryWrapClose + "\n\n" + text
				return true
			}
		}
	}
	return false
}

// OnBackendSwitch synchronously asks the summarizer for a digest of the
// last request's messages and stores it as the pending summary for the next
// request. Failures are swallowed here; callers that want them recorded to
// an error registry should use OnBackendSwitchErr instead.
func (s *SummarizeTransformer) OnBackendSwitch(from, to string) {
	_ = s.OnBackendSwitchErr(context.Background(), from, to)
}

// SummarizationError reports a failed summarizer call. The switch itself
// always proceeds regardless.
type SummarizationError struct {
	Backend string
	Err     error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization failed during switch to %s: %v", e.Backend, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// OnBackendSwitchErr is OnBackendSwitch with its error surfaced, so a
// supervisor can forward it to the Error Registry.
func (s *SummarizeTransformer) OnBackendSwitchErr(ctx context.Context, from, to string) error {
	s.mu.Lock()
	messages := s.lastMessages
	s.mu.Unlock()
	if len(messages) == 0 {
		return nil
	}

	summary, err := s.summarize(ctx, messages)
	if err != nil {
		return &SummarizationError{Backend: to, Err: err}
	}

	s.mu.Lock()
	s.pendingSummary = summary
	s.mu.Unlock()
	return nil
}

func (s *SummarizeTransformer) summarize(ctx context.Context, messages []any) (string, error) {
	reqBody := map[string]any{
		"model":      s.cfg.Model,
		"max_tokens": s.cfg.MaxTokens,
		"stream":     true,
		"messages":   messages,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarizer returned status %d", resp.StatusCode)
	}

	return extractFinalText(resp.Body)
}

// sseDelta is the subset of an Anthropic content_block_delta event this
// package needs.
type sseDelta struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// extractFinalText reads an Anthropic-compatible SSE stream and
// concatenates text deltas, then strips any <system-reminder>...
// </system-reminder> spans.
func extractFinalText(body io.Reader) (string, error) {
	var buf strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var evt sseDelta
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		if evt.Type == "content_block_delta" && evt.Delta.Type == "text_delta" {
			buf.WriteString(evt.Delta.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return stripSystemReminders(buf.String()), nil
}

func stripSystemReminders(s string) string {
	const openTag, closeTag = "<system-reminder>", "</system-reminder>"
	for {
		start := strings.Index(s, openTag)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], closeTag)
		if end == -1 {
			return s[:start]
		}
		s = s[:start] + s[start+end+len(closeTag):]
	}
}
