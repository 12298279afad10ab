package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anyclaude/anyclaude/internal/backendstate"
	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/reasoning"
	"github.com/anyclaude/anyclaude/internal/routing"
)

type passthroughTransformer struct{}

func (passthroughTransformer) Name() string { return "strip" }
func (passthroughTransformer) TransformRequest(body map[string]any, _ reasoning.RequestContext) (bool, reasoning.Stats, error) {
	return false, reasoning.Stats{}, nil
}
func (passthroughTransformer) OnBackendSwitch(from, to string) {}

type staticProvider struct{ tr reasoning.Transformer }

func (p staticProvider) Current() reasoning.Transformer { return p.tr }

func newTestClient(t *testing.T, cfg *config.Config, recordSink func(*RequestRecord), retrySink func(RetryEvent)) *Client {
	t.Helper()
	store := config.NewStore("", cfg)
	backends := backendstate.New(cfg)
	registry := reasoning.New(cfg.Defaults.ActiveBackendID)
	return New(store, backends, registry, staticProvider{passthroughTransformer{}}, recordSink, retrySink)
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Backends = []*config.Backend{{
		ID:      "direct",
		BaseURL: baseURL,
		Auth:    config.BackendAuth{Mode: config.AuthForward},
	}}
	cfg.Defaults.MaxRetries = 1
	cfg.Defaults.RetryBackoffBaseMs = 1
	cfg.Defaults.IdleTimeoutS = 1
	return cfg
}

func TestForwardBackendNotFound(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	c := newTestClient(t, cfg, nil, nil)

	_, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID:   "r1",
		Method:      "POST",
		Path:        "/v1/messages",
		Header:      http.Header{},
		HasDecision: true,
		Decision:    routing.Decision{BackendID: "missing"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := httpStatus(err); got != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", got)
	}
}

func TestForwardBackendNotConfigured(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Backends[0].Auth = config.BackendAuth{Mode: config.AuthAPIKey, Value: ""}
	c := newTestClient(t, cfg, nil, nil)

	_, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1",
		Method:    "POST",
		Path:      "/v1/messages",
		Header:    http.Header{},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := httpStatus(err); got != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", got)
	}
}

func TestForwardNonStreamingSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-opus-internal","content":[]}`))
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	var recorded *RequestRecord
	var mu sync.Mutex
	c := newTestClient(t, cfg, func(rec *RequestRecord) { mu.Lock(); recorded = rec; mu.Unlock() }, nil)

	body := []byte(`{"model":"claude-opus-4","messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	res, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1",
		Method:    "POST",
		Path:      "/v1/messages",
		Header:    header,
		Body:      body,
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	out, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(out), "\"model\"") {
		t.Fatalf("unexpected body: %s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if recorded == nil {
		t.Fatal("record sink never called")
	}
	if recorded.StatusCode != http.StatusOK {
		t.Fatalf("record status = %d, want 200", recorded.StatusCode)
	}
	if recorded.BackendID != "direct" {
		t.Fatalf("record backend = %q", recorded.BackendID)
	}
}

func TestForwardModelRewriteRoundTrip(t *testing.T) {
	var sawUpstreamModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var parsed struct {
			Model string `json:"model"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &parsed)
		sawUpstreamModel = parsed.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"` + parsed.Model + `","content":[]}`))
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Backends[0].ModelFamily = &config.ModelFamily{Opus: "internal-opus-v3"}
	c := newTestClient(t, cfg, nil, nil)

	body := []byte(`{"model":"claude-opus-4-20250101","messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	res, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1", Method: "POST", Path: "/v1/messages", Header: header, Body: body,
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if sawUpstreamModel != "internal-opus-v3" {
		t.Fatalf("upstream saw model %q, want internal-opus-v3", sawUpstreamModel)
	}

	out, _ := io.ReadAll(res.Body)
	var decoded struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Model != "claude-opus-4-20250101" {
		t.Fatalf("guest saw model %q, want the original requested name back", decoded.Model)
	}
}

func TestForwardRetriesThenFailsClassifiesConnectionError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1") // nothing listens here
	cfg.Defaults.MaxRetries = 2
	cfg.Defaults.RetryBackoffBaseMs = 1

	var retries []RetryEvent
	var mu sync.Mutex
	c := newTestClient(t, cfg, nil, func(ev RetryEvent) { mu.Lock(); retries = append(retries, ev); mu.Unlock() })

	body := []byte(`{"model":"x","messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	_, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1", Method: "POST", Path: "/v1/messages", Header: header, Body: body,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := httpStatus(err); got != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(retries) != cfg.Defaults.MaxRetries+1 {
		t.Fatalf("retry events = %d, want %d progress + 1 final", len(retries), cfg.Defaults.MaxRetries)
	}
	for _, ev := range retries[:len(retries)-1] {
		if ev.Final {
			t.Fatalf("progress event marked final: %+v", ev)
		}
	}
	final := retries[len(retries)-1]
	if !final.Final || final.Err == nil {
		t.Fatalf("last event should be a failed final, got %+v", final)
	}
	if final.Attempt != cfg.Defaults.MaxRetries+1 {
		t.Fatalf("final attempt = %d, want %d", final.Attempt, cfg.Defaults.MaxRetries+1)
	}
}

func TestForwardStreamingStripsContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"internal-opus-v3\"}}\n\n"
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(payload))
		flusher.Flush()
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Backends[0].ModelFamily = &config.ModelFamily{Opus: "internal-opus-v3"}
	c := newTestClient(t, cfg, func(*RequestRecord) {}, nil)

	body := []byte(`{"model":"claude-opus-4","stream":true,"messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	res, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1", Method: "POST", Path: "/v1/messages", Header: header, Body: body,
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if res.Header.Get("Content-Length") != "" {
		t.Fatal("Content-Length should be stripped on a rewritten stream")
	}
	out, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(out), "claude-opus-4") {
		t.Fatalf("guest-visible stream did not get the model rewritten back: %s", out)
	}
	_ = res.Body.Close()
}

func TestForwardIdleTimeoutClassifiesRecord(t *testing.T) {
	block := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("event: ping\ndata: {}\n\n"))
		flusher.Flush()
		<-block
	}))
	defer upstream.Close()
	defer close(block)

	cfg := testConfig(upstream.URL)
	cfg.Defaults.IdleTimeoutS = 1

	var recorded *RequestRecord
	var mu sync.Mutex
	c := newTestClient(t, cfg, func(rec *RequestRecord) { mu.Lock(); recorded = rec; mu.Unlock() }, nil)

	body := []byte(`{"model":"x","stream":true,"messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	res, err := c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1", Method: "POST", Path: "/v1/messages", Header: header, Body: body,
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	_, _ = io.ReadAll(res.Body)
	_ = res.Body.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := recorded != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if recorded == nil {
		t.Fatal("record sink never called")
	}
	if recorded.Err == nil {
		t.Fatal("expected idle timeout error on record")
	}
	if !strings.Contains(recorded.Err.Error(), "idle") {
		t.Fatalf("record err = %v, want an idle timeout classification", recorded.Err)
	}
}

func TestForwardStreamingRequestHeaderHangHitsTotalTimeout(t *testing.T) {
	// A backend that accepts the connection but never sends response
	// headers. The total timeout must cover the header-wait phase even for
	// a stream:true request; only an actual text/event-stream response
	// relaxes it to the idle watchdog.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	cfg := testConfig("http://" + ln.Addr().String())
	cfg.Defaults.TotalTimeoutS = 1
	cfg.Defaults.MaxRetries = 1
	cfg.Defaults.RetryBackoffBaseMs = 1

	c := newTestClient(t, cfg, nil, nil)

	body := []byte(`{"model":"x","stream":true,"messages":[]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	start := time.Now()
	_, err = c.Forward(context.Background(), &ForwardRequest{
		RequestID: "r1", Method: "POST", Path: "/v1/messages", Header: header, Body: body,
	})
	if err == nil {
		t.Fatal("expected total timeout error")
	}
	if got := httpStatus(err); got != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", got)
	}
	// Two attempts at ~1s each plus negligible backoff.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Forward took %v, total timeout never fired", elapsed)
	}
}

func httpStatus(err error) int {
	type statusErr interface{ HTTPStatus() int }
	if se, ok := err.(statusErr); ok {
		return se.HTTPStatus()
	}
	return 0
}
