package upstream

import "time"

// RequestRecord captures everything the Observability Hub wants to know
// about one proxied request. Client fills it in as the
// request progresses and hands it to RecordSink once, at completion.
type RequestRecord struct {
	RequestID       string
	BackendID       string
	Path            string
	Method          string
	RoutingReason   string
	Model           string
	InputTokens     int
	OutputTokens    int
	ImageCount      int
	CostUSD         float64
	ReasonRequested bool
	Stream          bool
	StartedAt       time.Time
	FirstByteAt     time.Time
	CompletedAt     time.Time
	StatusCode      int
	BytesWritten    int64
	Err             error
	Retries         int
}

// Latency returns the time from request start to completion.
func (r *RequestRecord) Latency() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// TimeToFirstByte returns the time from request start to first response
// byte, or zero if none was observed (e.g. the request failed before a
// response arrived).
func (r *RequestRecord) TimeToFirstByte() time.Duration {
	if r.FirstByteAt.IsZero() {
		return 0
	}
	return r.FirstByteAt.Sub(r.StartedAt)
}

// RetryEvent is emitted once per retry attempt, for the Error Registry's
// recovery tracking. A Final event closes the sequence: Err non-nil means
// every attempt was exhausted, Err nil means a retried send eventually
// succeeded.
type RetryEvent struct {
	RequestID string
	BackendID string
	Attempt   int
	Err       error
	Final     bool
}
