// Package upstream implements the Upstream Client: a pooled
// HTTP/1.1+HTTP/2 client that resolves the active backend, applies the
// reasoning and model-mapping rewriters to the outbound body, retries
// transient failures, and streams the response back through an observed
// wrapper that keeps the reverse rewriters and the Reasoning Registry in
// sync with what the guest actually sees.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anyclaude/anyclaude/internal/backendstate"
	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/credential"
	"github.com/anyclaude/anyclaude/internal/errs"
	"github.com/anyclaude/anyclaude/internal/logging"
	"github.com/anyclaude/anyclaude/internal/modelmap"
	"github.com/anyclaude/anyclaude/internal/reasoning"
	"github.com/anyclaude/anyclaude/internal/routing"
)

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Host",
}

// TransformerProvider exposes the currently active Reasoning Transformer,
// which may be hot-swapped between strip and summarize.
type TransformerProvider interface {
	Current() reasoning.Transformer
}

// ForwardRequest is everything the caller (the proxy server) has already
// extracted from the inbound HTTP request.
type ForwardRequest struct {
	RequestID   string
	Method      string
	Path        string // original path and query, pre-routing-strip
	Header      http.Header
	Body        []byte
	Decision    routing.Decision
	HasDecision bool
}

// Result is what Forward hands back for the caller to relay to the guest.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client is the Upstream Client.
type Client struct {
	http        *http.Client
	store       *config.Store
	backends    *backendstate.State
	registry    *reasoning.Registry
	transformer TransformerProvider
	recordSink  func(*RequestRecord)
	retrySink   func(RetryEvent)
	now         func() time.Time
}

// New builds a Client pooled per the defaults in the config store's
// current snapshot at construction time. There is one connector per
// process: the transport's pool settings are fixed for the process
// lifetime even though timeouts are re-read per request from the live
// snapshot.
func New(store *config.Store, backends *backendstate.State, registry *reasoning.Registry, transformer TransformerProvider, recordSink func(*RequestRecord), retrySink func(RetryEvent)) *Client {
	d := store.Current().Defaults
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: orDefault(d.PoolMaxIdlePerHost, 20),
		IdleConnTimeout:     time.Duration(orDefault(d.PoolIdleTimeoutS, 90)) * time.Second,
		DialContext: (&net.Dialer{
			Timeout: time.Duration(orDefault(d.ConnectTimeoutS, 5)) * time.Second,
		}).DialContext,
	}
	return &Client{
		http:        &http.Client{Transport: transport},
		store:       store,
		backends:    backends,
		registry:    registry,
		transformer: transformer,
		recordSink:  recordSink,
		retrySink:   retrySink,
		now:         time.Now,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Forward sends one guest request to the selected backend: resolve the
// backend and credentials, tap the body for the rewriters, send with
// retry, and wrap the response for observation.
func (c *Client) Forward(ctx context.Context, req *ForwardRequest) (*Result, error) {
	snap := c.store.Current()
	record := &RequestRecord{RequestID: req.RequestID, Path: req.Path, Method: req.Method, StartedAt: c.now()}

	backendID := c.backends.Get()
	reason := ""
	strippedPath := req.Path
	if req.HasDecision {
		backendID = req.Decision.BackendID
		reason = req.Decision.Reason
		strippedPath = routing.StripPrefix(req.Path, req.Decision.StripPrefix)
	}
	record.BackendID = backendID
	record.RoutingReason = reason

	backend := snap.BackendByID(backendID)
	if backend == nil {
		return nil, c.fail(record, errBackendNotFound(backendID))
	}
	if !credential.Configured(backend) {
		return nil, c.fail(record, errBackendNotConfigured(backendID))
	}

	body, guestModel, upstreamModel, err := c.prepareBody(req.Body, req.Header, backend, record)
	if err != nil {
		return nil, c.fail(record, errInvalidRequest(err))
	}

	upstreamURL := backend.BaseURL + strippedPath
	header := cloneForwardHeaders(req.Header)
	if h, ok := credential.Resolve(backend); ok {
		header.Del("Authorization")
		header.Set(h.Name, h.Value)
	}

	resp, streamCancel, stopTotal, err := c.sendWithRetry(ctx, snap.Defaults, record, req.Method, upstreamURL, header, body)
	if err != nil {
		return nil, c.fail(record, classifySendError(err))
	}

	record.StatusCode = resp.StatusCode
	record.Stream = strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")

	var sseRW *modelmap.SSERewriter
	var accumulator *reasoning.StreamAccumulator
	if guestModel != "" {
		sseRW = modelmap.NewSSERewriter(guestModel, upstreamModel, func(reported string) {
			logging.WithComponent("upstream").Warn("model mismatch on reverse rewrite", "reported", reported)
		})
	}
	if c.registry != nil {
		accumulator = reasoning.NewStreamAccumulator(c.registry)
	}

	if !record.Stream {
		defer stopTotal()
		defer streamCancel()
		return c.bufferAndRewriteNonStreaming(resp, guestModel, backend.Pricing, record)
	}

	// The response is a real event stream: drop the total deadline and let
	// the idle inter-byte watchdog govern from here.
	stopTotal()
	idleTimeout := time.Duration(orDefault(snap.Defaults.IdleTimeoutS, 60)) * time.Second
	observed := newObservedStream(resp.Body, record, sseRW, accumulator, backend.Pricing, c.recordSink)
	observed.enableIdleWatchdog(idleTimeout, streamCancel)
	outHeader := resp.Header.Clone()
	if guestModel != "" {
		modelmap.StripContentLength(outHeader)
	}
	return &Result{StatusCode: resp.StatusCode, Header: outHeader, Body: observed}, nil
}

// prepareBody runs the request-side tap: reasoning filter,
// reasoning transform, model mapper forward rewrite. Returns the
// re-serialized body, the guest-requested model name when a forward
// rewrite occurred (empty string otherwise), and the backend-internal
// model name it was rewritten to.
func (c *Client) prepareBody(raw []byte, header http.Header, backend *config.Backend, record *RequestRecord) (body []byte, guestModel, upstreamModel string, err error) {
	if !strings.Contains(header.Get("Content-Type"), "application/json") || len(raw) == 0 {
		return raw, "", "", nil
	}

	var parsed map[string]any
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
		// Serialization failure during filter does not suppress the
		// request: forward the original body.
		return raw, "", "", nil
	}

	if model, _ := parsed["model"].(string); model != "" {
		record.Model = model
	}
	analyzeRequestBody(parsed, record)

	if c.registry != nil {
		if messages, ok := parsed["messages"].([]any); ok {
			c.registry.FilterRequest(messages)
		}
	}

	if c.transformer != nil {
		if tr := c.transformer.Current(); tr != nil {
			_, _, _ = tr.TransformRequest(parsed, reasoning.RequestContext{})
		}
	}

	if backend.ModelFamily != nil {
		if original, changed := modelmap.RewriteRequestBody(parsed, backend.ModelFamily); changed {
			guestModel = original
			upstreamModel, _ = parsed["model"].(string)
		}
	}

	out, marshalErr := json.Marshal(parsed)
	if marshalErr != nil {
		return raw, "", "", nil
	}
	return out, guestModel, upstreamModel, nil
}

// bufferAndRewriteNonStreaming handles the non-streaming JSON reverse
// rewrite path: the body must be fully read before it can be
// re-serialized, so no observedStream wrapping is used here; the record is
// completed synchronously instead.
func (c *Client) bufferAndRewriteNonStreaming(resp *http.Response, guestModel string, pricing *config.Pricing, record *RequestRecord) (*Result, error) {
	defer resp.Body.Close()
	record.FirstByteAt = c.now()
	record.StatusCode = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		record.Err = err
		record.CompletedAt = c.now()
		if c.recordSink != nil {
			c.recordSink(record)
		}
		return nil, errInternal(err)
	}
	record.BytesWritten = int64(len(raw))

	if c.registry != nil {
		reasoning.RegisterFromResponseBody(c.registry, raw)
	}

	if in, out := usageFromResponseBody(raw); in > 0 || out > 0 {
		record.InputTokens, record.OutputTokens = in, out
		record.CostUSD = estimateCostUSD(pricing, in, out)
	}

	out := raw
	header := resp.Header.Clone()
	if guestModel != "" {
		rewritten, err := modelmap.RewriteResponseJSON(raw, guestModel, requestedUpstreamModel(raw), func(reported string) {
			logging.WithComponent("upstream").Warn("model mismatch on reverse rewrite", "reported", reported)
		})
		if err == nil {
			out = rewritten
			modelmap.StripContentLength(header)
		}
	}

	record.CompletedAt = c.now()
	if c.recordSink != nil {
		c.recordSink(record)
	}

	return &Result{StatusCode: resp.StatusCode, Header: header, Body: io.NopCloser(bytes.NewReader(out))}, nil
}

func requestedUpstreamModel(body []byte) string {
	var parsed struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &parsed)
	return parsed.Model
}

// sendWithRetry attempts the upstream send up to max_retries+1 times. The
// total request timeout governs every attempt through the header-wait
// phase, whether or not the request asked for streaming; a backend that
// accepts the connection but never sends headers cannot hold the request
// open past it. Once the caller observes that the response really is an
// event stream it disarms the deadline via the returned stop func and
// relies on the idle inter-byte watchdog (armed with the same cancel
// func) instead. For buffered responses the deadline keeps running until
// the body has been fully read.
func (c *Client) sendWithRetry(ctx context.Context, d config.Defaults, record *RequestRecord, method, url string, header http.Header, body []byte) (*http.Response, context.CancelFunc, func(), error) {
	maxAttempts := orDefault(d.MaxRetries, 2) + 1
	base := time.Duration(orDefault(d.RetryBackoffBaseMs, 250)) * time.Millisecond
	total := time.Duration(orDefault(d.TotalTimeoutS, 120)) * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(base, attempt-1))
			record.Retries++
			if c.retrySink != nil {
				c.retrySink(RetryEvent{RequestID: record.RequestID, BackendID: record.BackendID, Attempt: attempt, Err: lastErr})
			}
		}

		reqCtx, cancel := context.WithCancel(ctx)
		var totalFired atomic.Bool
		totalTimer := time.AfterFunc(total, func() {
			totalFired.Store(true)
			cancel()
		})

		req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewReader(body))
		if err != nil {
			totalTimer.Stop()
			cancel()
			return nil, nil, nil, err
		}
		req.Header = header.Clone()

		resp, err := c.http.Do(req)
		if err == nil {
			if attempt > 0 && c.retrySink != nil {
				c.retrySink(RetryEvent{RequestID: record.RequestID, BackendID: record.BackendID, Attempt: attempt + 1, Final: true})
			}
			// cancel is left live as the caller's abort handle; the total
			// timer keeps running until the caller disarms it (event
			// stream) or the buffered body read completes.
			return resp, cancel, func() { totalTimer.Stop() }, nil
		}
		totalTimer.Stop()
		cancel()
		if totalFired.Load() {
			err = &totalTimeoutError{cause: err}
		}
		lastErr = err
		if !retryable(err) {
			return nil, nil, nil, err
		}
	}
	if c.retrySink != nil {
		c.retrySink(RetryEvent{RequestID: record.RequestID, BackendID: record.BackendID, Attempt: maxAttempts, Err: lastErr, Final: true})
	}
	return nil, nil, nil, lastErr
}

func classifySendError(err error) *errs.Classified {
	if isTimeout(err) {
		return errRequestTimeout(err)
	}
	return errConnectionFailed(err)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *Client) fail(record *RequestRecord, err *errs.Classified) error {
	record.Err = err
	record.CompletedAt = c.now()
	record.StatusCode = err.HTTPStatus()
	if c.recordSink != nil {
		c.recordSink(record)
	}
	return err
}

func cloneForwardHeaders(in http.Header) http.Header {
	out := in.Clone()
	for _, h := range hopByHopHeaders {
		out.Del(h)
	}
	return out
}
