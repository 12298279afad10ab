package upstream

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/modelmap"
	"github.com/anyclaude/anyclaude/internal/reasoning"
)

// observedStream wraps an upstream response body: stamps
// first-byte time, counts bytes, applies the SSE reverse model rewriter
// when the forward mapper rewrote the request, feeds SSE events to the
// Reasoning Registry's response-side protocol, and calls the record's
// completion hook once the stream ends (EOF or error).
type observedStream struct {
	body        io.ReadCloser
	record      *RequestRecord
	sseRW       *modelmap.SSERewriter
	sseParser   *sseLineParser
	accumulator *reasoning.StreamAccumulator
	pricing     *config.Pricing
	onDone      func(*RequestRecord)
	done        bool

	readBuf []byte // scratch buffer for reads from body
	pending []byte // rewritten bytes not yet returned to the caller

	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleFired   atomic.Bool
}

func newObservedStream(body io.ReadCloser, record *RequestRecord, sseRW *modelmap.SSERewriter, accumulator *reasoning.StreamAccumulator, pricing *config.Pricing, onDone func(*RequestRecord)) *observedStream {
	os := &observedStream{body: body, record: record, sseRW: sseRW, accumulator: accumulator, pricing: pricing, onDone: onDone, readBuf: make([]byte, 32*1024)}
	if accumulator != nil {
		os.sseParser = newSSELineParser(accumulator)
	}
	return os
}

// enableIdleWatchdog arms a timer that cancels the request's context (and
// so unblocks body.Read with an error) if no byte arrives within timeout.
// Every successful Read resets it.
func (o *observedStream) enableIdleWatchdog(timeout time.Duration, cancel context.CancelFunc) {
	if timeout <= 0 || cancel == nil {
		return
	}
	o.idleTimeout = timeout
	o.idleTimer = time.AfterFunc(timeout, func() {
		o.idleFired.Store(true)
		cancel()
	})
}

// Read rewriting may change a chunk's length (the guest's model name is
// rarely the same byte length as the backend's), so rewritten bytes are
// staged in pending and drained across as many Read calls as the caller
// needs, rather than assuming the rewritten chunk fits the caller's buffer.
func (o *observedStream) Read(p []byte) (int, error) {
	if len(o.pending) > 0 {
		n := copy(p, o.pending)
		o.pending = o.pending[n:]
		return n, nil
	}

	n, err := o.body.Read(o.readBuf)
	if n > 0 {
		if o.idleTimer != nil {
			o.idleTimer.Reset(o.idleTimeout)
		}
		if o.record.FirstByteAt.IsZero() {
			o.record.FirstByteAt = time.Now()
		}
		o.record.BytesWritten += int64(n)

		chunk := o.readBuf[:n]
		if o.sseRW != nil {
			chunk = o.sseRW.Rewrite(chunk)
		}
		if o.sseParser != nil {
			o.sseParser.Feed(chunk)
		}

		copied := copy(p, chunk)
		if copied < len(chunk) {
			o.pending = append(o.pending, chunk[copied:]...)
		}
		if err != nil {
			o.finish(err)
		}
		return copied, nil
	}
	if err != nil {
		o.finish(err)
	}
	return n, err
}

func (o *observedStream) Close() error {
	if o.idleTimer != nil {
		o.idleTimer.Stop()
	}
	o.finish(nil)
	return o.body.Close()
}

func (o *observedStream) finish(err error) {
	if o.done {
		return
	}
	o.done = true
	if o.idleTimer != nil {
		o.idleTimer.Stop()
	}
	o.record.CompletedAt = time.Now()
	if o.accumulator != nil {
		if in, out := o.accumulator.Usage(); in > 0 || out > 0 {
			o.record.InputTokens, o.record.OutputTokens = in, out
			o.record.CostUSD = estimateCostUSD(o.pricing, in, out)
		}
	}
	switch {
	case o.idleFired.Load():
		o.record.Err = errStreamIdleTimeout(err)
	case err != nil && err != io.EOF:
		o.record.Err = err
	}
	if o.onDone != nil {
		o.onDone(o.record)
	}
}
