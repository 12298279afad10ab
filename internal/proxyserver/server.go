// Package proxyserver implements the Proxy Server: the HTTP
// listener the guest talks to. It validates the session token, mints a
// request id, runs the routing middleware, and delegates forwarding to the
// Upstream Client.
package proxyserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/anyclaude/anyclaude/internal/errregistry"
	"github.com/anyclaude/anyclaude/internal/errs"
	"github.com/anyclaude/anyclaude/internal/logging"
	"github.com/anyclaude/anyclaude/internal/observability"
	"github.com/anyclaude/anyclaude/internal/routing"
	"github.com/anyclaude/anyclaude/internal/upstream"
)

// PortFallbackAttempts is how many additional ports beyond the configured
// one the server will try when the configured bind address is busy.
const PortFallbackAttempts = 5

// streamingBufferSize is the chunk size used when copying a streaming
// response body to the guest.
const streamingBufferSize = 4096

// Forwarder is the subset of *upstream.Client the server depends on.
type Forwarder interface {
	Forward(ctx context.Context, req *upstream.ForwardRequest) (*upstream.Result, error)
}

// Config configures a Server.
type Config struct {
	BindAddr     string
	SessionToken string
	Routing      *routing.Table
	Client       Forwarder

	// ErrRegistry and Hub back the optional /_anyclaude/events websocket
	// Leave both nil to omit the endpoint entirely.
	ErrRegistry *errregistry.Registry
	Hub         *observability.Hub
}

// Server is the Proxy Server.
type Server struct {
	cfg Config

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	boundAddr  string
}

// New creates a Server. Call ListenAndServe to bind and start accepting.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// BoundAddr returns the address the server actually bound to, valid only
// after ListenAndServe has successfully bound, so the supervisor can put
// the actual address into the guest environment.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// ListenAndServe binds (trying the configured port and a few successors if
// busy) and serves until Shutdown is called. It blocks until the listener
// closes.
func (s *Server) ListenAndServe() error {
	ln, addr, err := bindWithFallback(s.cfg.BindAddr, PortFallbackAttempts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.boundAddr = addr
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.ErrRegistry != nil || s.cfg.Hub != nil {
		mux.HandleFunc("/_anyclaude/events", s.handleEvents)
	}
	mux.HandleFunc("/", s.handle)
	s.httpServer = &http.Server{Handler: mux}
	srv := s.httpServer
	s.mu.Unlock()

	logging.WithComponent("proxyserver").Info("listening", "addr", addr)
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits (up to ctx's
// deadline) for active streams to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func bindWithFallback(addr string, extraAttempts int) (net.Listener, string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", err
		}
		return ln, ln.Addr().String(), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", err
		}
		return ln, ln.Addr().String(), nil
	}

	var lastErr error
	for i := 0; i <= extraAttempts; i++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", candidate)
		if err == nil {
			return ln, ln.Addr().String(), nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("proxyserver: could not bind %s or the next %d ports: %w", addr, extraAttempts, lastErr)
}

// handleHealth answers GET /health with 200 immediately; it is never
// forwarded and requires no authentication.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		s.handleHealth(w, r)
		return
	}

	if !s.validSession(r) {
		unauthorized := errs.New(errs.KindProtocol, "unauthorized", "invalid or missing session token")
		unauthorized.Status = http.StatusUnauthorized
		errs.WriteHTTP(w, "", unauthorized)
		return
	}

	requestID := s.nextRequestID()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest := errs.Wrap(errs.KindProtocol, "invalid_request", "failed to read request body", err)
		badRequest.Status = http.StatusBadRequest
		errs.WriteHTTP(w, requestID, badRequest)
		return
	}

	decision, hasDecision := s.cfg.Routing.Evaluate(r.URL.Path)

	if s.cfg.Hub != nil {
		preCtx := observability.PreRequestContext{RequestID: requestID, Path: r.URL.Path, Method: r.Method}
		if hasDecision {
			preCtx.BackendID = decision.BackendID
		}
		if o := s.cfg.Hub.RunPreRequest(preCtx); o != nil {
			decision = routing.Decision{BackendID: o.BackendID, Reason: "plugin override"}
			hasDecision = true
		}
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	fr := &upstream.ForwardRequest{
		RequestID:   requestID,
		Method:      r.Method,
		Path:        path,
		Header:      r.Header,
		Body:        body,
		Decision:    decision,
		HasDecision: hasDecision,
	}

	result, err := s.cfg.Client.Forward(r.Context(), fr)
	if err != nil {
		errs.WriteHTTP(w, requestID, err)
		return
	}
	defer result.Body.Close()

	copyHeaders(w.Header(), result.Header)
	w.WriteHeader(result.StatusCode)

	if strings.Contains(result.Header.Get("Content-Type"), "text/event-stream") {
		streamBody(w, result.Body)
		return
	}
	_, _ = io.Copy(w, result.Body)
}

// validSession checks that a non-/health request carries
// "Authorization: Bearer <session-token>".
func (s *Server) validSession(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return auth[len(prefix):] == s.cfg.SessionToken
}

// requestSeq numbers requests in arrival order across the process.
var requestSeq atomic.Uint64

// nextRequestID returns "<seq>-<uuid>": a monotonic sequence number paired
// with a random UUID.
func (s *Server) nextRequestID() string {
	return fmt.Sprintf("%d-%s", requestSeq.Add(1), uuid.New().String())
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// streamBody copies an SSE body to w in bounded chunks, flushing after
// every write so the guest observes events as they arrive rather than
// buffered.
func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamingBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}
