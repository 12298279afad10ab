package proxyserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anyclaude/anyclaude/internal/errregistry"
	"github.com/anyclaude/anyclaude/internal/logging"
	"github.com/anyclaude/anyclaude/internal/observability"
)

// eventsSnapshotInterval is how often a connected /_anyclaude/events client
// receives a fresh Observability snapshot, independent of Error Registry
// activity.
const eventsSnapshotInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	// The events endpoint is same-origin-only by construction (the guest and
	// any watcher both talk to 127.0.0.1); origin checking is not meaningful
	// for a loopback-only listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is one message on the events stream: exactly one of the two
// payload fields is populated.
type wsEnvelope struct {
	Type     string                  `json:"type"` // "error_event" or "snapshot"
	Event    *errregistry.Event      `json:"event,omitempty"`
	Snapshot *observability.Snapshot `json:"snapshot,omitempty"`
}

// handleEvents serves the read-only status/events websocket: it streams
// Error Events as they are published and a periodic Observability Hub
// snapshot, gated by the same session token as every other non-health
// request. Never carries guest traffic.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("proxyserver")

	if !s.validSession(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.ErrRegistry == nil && s.cfg.Hub == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("events websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	outbound := make(chan wsEnvelope, 16)
	done := make(chan struct{})

	if s.cfg.ErrRegistry != nil {
		s.cfg.ErrRegistry.Subscribe(func(evt errregistry.Event) {
			select {
			case outbound <- wsEnvelope{Type: "error_event", Event: &evt}:
			default:
				// Slow reader: drop rather than block the publisher.
			}
		})
	}

	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if s.cfg.Hub != nil {
		ticker = time.NewTicker(eventsSnapshotInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case env := <-outbound:
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-tickC:
			snap := s.cfg.Hub.Snapshot()
			if err := conn.WriteJSON(wsEnvelope{Type: "snapshot", Snapshot: &snap}); err != nil {
				return
			}
		}
	}
}
