// Package errregistry implements the Error Registry: a bounded,
// classified stream of Error Events surfaced to the front-end, plus a
// "recovery" tracker the Upstream Client's retry loop uses to report
// "Retrying 2/3 ..." progress, and a feature-degradation tracker for
// clipboard/metrics/config-hot-reload/backend-switch.
package errregistry

import (
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/logging"
)

// Severity classifies an Error Event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category classifies an Error Event's origin.
type Category string

const (
	CategoryProcess Category = "process"
	CategoryNetwork Category = "network"
	CategoryConfig  Category = "config"
	CategoryBackend Category = "backend"
	CategoryIPC     Category = "ipc"
	CategorySystem  Category = "system"
)

// Event is one Error Event.
type Event struct {
	ID           uint64
	Timestamp    time.Time
	Severity     Severity
	Category     Category
	Message      string
	Details      string
	RecoveryHint string
	Acknowledged bool
}

// DefaultCapacity bounds the in-memory event stream.
const DefaultCapacity = 500

// Listener is notified of every newly published event.
type Listener func(Event)

// Registry is the Error Registry.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	events   []Event
	capacity int
	now      func() time.Time

	subsMu sync.Mutex
	subs   []Listener

	recoveriesMu sync.Mutex
	recoveries   map[string]*Recovery

	featuresMu sync.Mutex
	features   map[string]FeatureStatus
}

// New creates a Registry with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity:   capacity,
		now:        time.Now,
		recoveries: make(map[string]*Recovery),
		features:   make(map[string]FeatureStatus),
	}
}

// Subscribe registers a listener invoked synchronously for every Publish.
func (r *Registry) Subscribe(l Listener) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs = append(r.subs, l)
}

// Publish records a new Error Event and notifies subscribers. It also logs
// the event at a level matching its severity.
func (r *Registry) Publish(severity Severity, category Category, message, details, recoveryHint string) Event {
	r.mu.Lock()
	r.nextID++
	evt := Event{
		ID:           r.nextID,
		Timestamp:    r.now(),
		Severity:     severity,
		Category:     category,
		Message:      message,
		Details:      details,
		RecoveryHint: recoveryHint,
	}
	r.events = append(r.events, evt)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
	r.mu.Unlock()

	r.logEvent(evt)

	r.subsMu.Lock()
	subs := make([]Listener, len(r.subs))
	copy(subs, r.subs)
	r.subsMu.Unlock()
	for _, l := range subs {
		l(evt)
	}
	return evt
}

func (r *Registry) logEvent(evt Event) {
	log := logging.WithComponent("errregistry")
	switch evt.Severity {
	case SeverityCritical, SeverityError:
		log.Error(evt.Message, "category", evt.Category, "details", evt.Details)
	case SeverityWarning:
		log.Warn(evt.Message, "category", evt.Category, "details", evt.Details)
	default:
		log.Info(evt.Message, "category", evt.Category, "details", evt.Details)
	}
}

// Recent returns up to n most recent events (chronological order), or all
// of them when n <= 0.
func (r *Registry) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n >= len(r.events) {
		out := make([]Event, len(r.events))
		copy(out, r.events)
		return out
	}
	out := make([]Event, n)
	copy(out, r.events[len(r.events)-n:])
	return out
}

// Acknowledge marks the event with id as acknowledged, if present.
func (r *Registry) Acknowledge(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Acknowledged = true
			return true
		}
	}
	return false
}

// RecoveryState is the lifecycle of a named recovery attempt.
type RecoveryState string

const (
	RecoveryInProgress RecoveryState = "in_progress"
	RecoverySucceeded  RecoveryState = "succeeded"
	RecoveryFailed     RecoveryState = "failed"
)

// Recovery tracks one in-flight retry sequence (e.g. "backend_connection")
// so the front-end can show "Retrying 2/3 ...".
type Recovery struct {
	Name       string
	State      RecoveryState
	Attempt    int
	MaxAttempt int
	LastErr    string
	UpdatedAt  time.Time
}

// StartRecovery begins tracking a named recovery.
func (r *Registry) StartRecovery(name string, maxAttempt int) {
	r.recoveriesMu.Lock()
	defer r.recoveriesMu.Unlock()
	r.recoveries[name] = &Recovery{Name: name, State: RecoveryInProgress, MaxAttempt: maxAttempt, UpdatedAt: r.now()}
}

// UpdateRecovery records one more attempt against a named recovery
// (creating it if StartRecovery was never called).
func (r *Registry) UpdateRecovery(name string, attempt int, err error) {
	r.recoveriesMu.Lock()
	defer r.recoveriesMu.Unlock()
	rec, ok := r.recoveries[name]
	if !ok {
		rec = &Recovery{Name: name, State: RecoveryInProgress}
		r.recoveries[name] = rec
	}
	rec.Attempt = attempt
	rec.State = RecoveryInProgress
	rec.UpdatedAt = r.now()
	if err != nil {
		rec.LastErr = err.Error()
	}
}

// SucceedRecovery marks a named recovery as resolved.
func (r *Registry) SucceedRecovery(name string) {
	r.recoveriesMu.Lock()
	defer r.recoveriesMu.Unlock()
	if rec, ok := r.recoveries[name]; ok {
		rec.State = RecoverySucceeded
		rec.UpdatedAt = r.now()
	}
}

// FailRecovery marks a named recovery as exhausted, recording the final
// attempt number.
func (r *Registry) FailRecovery(name string, attempt int, err error) {
	r.recoveriesMu.Lock()
	defer r.recoveriesMu.Unlock()
	rec, ok := r.recoveries[name]
	if !ok {
		rec = &Recovery{Name: name}
		r.recoveries[name] = rec
	}
	rec.State = RecoveryFailed
	rec.Attempt = attempt
	rec.UpdatedAt = r.now()
	if err != nil {
		rec.LastErr = err.Error()
	}
}

// Recoveries returns a snapshot of every tracked recovery.
func (r *Registry) Recoveries() map[string]Recovery {
	r.recoveriesMu.Lock()
	defer r.recoveriesMu.Unlock()
	out := make(map[string]Recovery, len(r.recoveries))
	for k, v := range r.recoveries {
		out[k] = *v
	}
	return out
}

// FeatureStatus describes whether an optional feature is degraded.
type FeatureStatus struct {
	Degraded bool
	Reason   string
}

// Names of the degradable features.
const (
	FeatureClipboard     = "clipboard"
	FeatureMetrics       = "metrics"
	FeatureConfigReload  = "config_hot_reload"
	FeatureBackendSwitch = "backend_switch"
)

// SetFeatureDegraded marks name as degraded with a human-readable reason,
// or clears degradation when reason == "".
func (r *Registry) SetFeatureDegraded(name, reason string) {
	r.featuresMu.Lock()
	defer r.featuresMu.Unlock()
	if reason == "" {
		delete(r.features, name)
		return
	}
	r.features[name] = FeatureStatus{Degraded: true, Reason: reason}
}

// Features returns a snapshot of every feature's degradation status.
func (r *Registry) Features() map[string]FeatureStatus {
	r.featuresMu.Lock()
	defer r.featuresMu.Unlock()
	out := make(map[string]FeatureStatus, len(r.features))
	for k, v := range r.features {
		out[k] = v
	}
	return out
}
