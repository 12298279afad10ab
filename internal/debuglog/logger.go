// Package debuglog implements the Debug Logger plugin: a
// level-gated, redacted request/response recorder with size or daily
// rotation, observing requests via the Observability Hub's plugin surface.
package debuglog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/observability"
	"github.com/anyclaude/anyclaude/internal/upstream"
)

// Level is the logging verbosity gate.
type Level int

const (
	LevelOff Level = iota
	LevelBasic
	LevelVerbose
	LevelFull
)

func parseLevel(s string) Level {
	switch s {
	case "basic":
		return LevelBasic
	case "verbose":
		return LevelVerbose
	case "full":
		return LevelFull
	default:
		return LevelOff
	}
}

// Entry is one logged request/response pair, fields populated
// progressively as Level increases.
type Entry struct {
	Timestamp     time.Time
	Method        string
	Path          string
	BackendID     string
	RoutingReason string
	Status        int
	LatencyMs     int64

	Model        string
	InputTokens  int
	OutputTokens int
	ImageCount   int
	CostUSD      float64

	RequestHeaders  http.Header
	ResponseHeaders http.Header
	RequestPreview  string
	ResponsePreview string
}

// Logger is the Debug Logger plugin. It implements observability.Plugin so
// it can be registered with the Observability Hub directly.
type Logger struct {
	cfg atomic.Pointer[config.Debug]

	writer    io.Writer
	rotator   *rotatingWriter
	closeOnce func() error
}

// New builds a Logger from the initial debug configuration. The
// destination (stderr/file/both) and rotation settings are fixed at
// construction from cfg.Destination/cfg.FilePath/cfg.Rotation; only the
// Level/Format/preview settings are safe to hot-swap via SetConfig on a
// config reload.
func New(cfg config.Debug) (*Logger, error) {
	l := &Logger{}
	l.cfg.Store(&cfg)

	writers := make([]io.Writer, 0, 2)
	if cfg.Destination == "stderr" || cfg.Destination == "both" || cfg.Destination == "" {
		writers = append(writers, os.Stderr)
	}
	if cfg.Destination == "file" || cfg.Destination == "both" {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("debuglog: destination %q requires file_path", cfg.Destination)
		}
		rot, err := newRotatingWriter(cfg.FilePath, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		rw := rot.(*rotatingWriter)
		l.rotator = rw
		writers = append(writers, rw)
	}

	switch len(writers) {
	case 0:
		l.writer = io.Discard
	case 1:
		l.writer = writers[0]
	default:
		l.writer = io.MultiWriter(writers...)
	}
	return l, nil
}

// SetConfig hot-swaps the level/format/preview settings. The
// destination/file path/rotation policy is not reconsidered; changing
// those requires a restart, matching the Upstream Client's own
// construction-time-only pool settings.
func (l *Logger) SetConfig(cfg config.Debug) {
	l.cfg.Store(&cfg)
}

// Config returns the currently active debug logging configuration, for the
// Command Bus's GetDebugLogging reply.
func (l *Logger) Config() config.Debug {
	return *l.cfg.Load()
}

// Close releases the rotating file handle, if one was opened.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Name implements observability.Plugin.
func (l *Logger) Name() string { return "debuglog" }

// PreRequest implements observability.Plugin; the Debug Logger never
// overrides routing, it only observes.
func (l *Logger) PreRequest(observability.PreRequestContext) (*observability.BackendOverride, error) {
	return nil, nil
}

// PostResponse implements observability.Plugin: builds and writes an Entry
// for rec at the currently configured level.
func (l *Logger) PostResponse(ctx observability.PostResponseContext) {
	l.LogRecord(ctx.Record, nil, nil, nil, nil)
}

// LogRecord gates on the configured level and writes one Entry. At verbose
// the model, tokens, image count and cost come from rec; reqHeader/
// respHeader and reqBody/respBody are only consulted at full (headers,
// body previews), so callers at lower levels may pass nil for all four.
func (l *Logger) LogRecord(rec *upstream.RequestRecord, reqHeader, respHeader http.Header, reqBody, respBody []byte) {
	cfg := l.cfg.Load()
	level := parseLevel(cfg.Level)
	if level == LevelOff || rec == nil {
		return
	}

	entry := Entry{
		Timestamp:     rec.CompletedAt,
		Method:        rec.Method,
		Path:          rec.Path,
		BackendID:     rec.BackendID,
		RoutingReason: rec.RoutingReason,
		Status:        rec.StatusCode,
		LatencyMs:     rec.Latency().Milliseconds(),
	}

	if level >= LevelVerbose {
		entry.Model = rec.Model
		entry.InputTokens = rec.InputTokens
		entry.OutputTokens = rec.OutputTokens
		entry.ImageCount = rec.ImageCount
		entry.CostUSD = rec.CostUSD
	}

	if level >= LevelFull {
		if cfg.HeaderPreview {
			if reqHeader != nil {
				entry.RequestHeaders = RedactHeaders(reqHeader)
			}
			if respHeader != nil {
				entry.ResponseHeaders = RedactHeaders(respHeader)
			}
		}
		entry.RequestPreview = preview(reqBody, cfg)
		entry.ResponsePreview = preview(respBody, cfg)
	}

	l.write(entry, cfg)
}

func preview(body []byte, cfg *config.Debug) string {
	if len(body) == 0 {
		return ""
	}

	var parsed any
	if json.Unmarshal(body, &parsed) == nil {
		redacted := RedactJSON(parsed)
		out, err := json.Marshal(redacted)
		if err == nil {
			body = out
		}
	} else {
		body = []byte(MaskTokens(string(body)))
	}

	if !cfg.FullBody && cfg.BodyPreviewBytes > 0 && len(body) > cfg.BodyPreviewBytes {
		body = body[:cfg.BodyPreviewBytes]
	}
	return string(body)
}

func (l *Logger) write(entry Entry, cfg *config.Debug) {
	var line []byte
	if cfg.Format == "json" {
		line = marshalJSON(entry, cfg.PrettyPrint)
	} else {
		line = []byte(formatText(entry) + "\n")
	}
	_, _ = l.writer.Write(line)
}

func marshalJSON(entry Entry, pretty bool) []byte {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(entry, "", "  ")
	} else {
		out, err = json.Marshal(entry)
	}
	if err != nil {
		return []byte("{}\n")
	}
	return append(out, '\n')
}

func formatText(e Entry) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s backend=%s status=%d latency=%dms",
		e.Timestamp.Format(time.RFC3339), e.Method, e.Path, e.BackendID, e.Status, e.LatencyMs)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s in=%d out=%d images=%d", e.Model, e.InputTokens, e.OutputTokens, e.ImageCount)
	}
	if e.RoutingReason != "" {
		fmt.Fprintf(&b, " routing=%q", e.RoutingReason)
	}
	if len(e.RequestHeaders) > 0 {
		fmt.Fprintf(&b, " req_headers=%q", headerSummary(e.RequestHeaders))
	}
	if len(e.ResponseHeaders) > 0 {
		fmt.Fprintf(&b, " resp_headers=%q", headerSummary(e.ResponseHeaders))
	}
	if e.RequestPreview != "" {
		fmt.Fprintf(&b, " req=%q", e.RequestPreview)
	}
	if e.ResponsePreview != "" {
		fmt.Fprintf(&b, " resp=%q", e.ResponsePreview)
	}
	return b.String()
}

func headerSummary(h http.Header) string {
	var b bytes.Buffer
	first := true
	for k, v := range h {
		if !first {
			b.WriteByte(';')
		}
		first = false
		fmt.Fprintf(&b, "%s=%s", k, v)
	}
	return b.String()
}
