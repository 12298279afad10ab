package proxyserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anyclaude/anyclaude/internal/routing"
	"github.com/anyclaude/anyclaude/internal/upstream"
)

type fakeForwarder struct {
	result *upstream.Result
	err    error
	lastFR *upstream.ForwardRequest
}

func (f *fakeForwarder) Forward(_ context.Context, req *upstream.ForwardRequest) (*upstream.Result, error) {
	f.lastFR = req
	return f.result, f.err
}

func newTestServer(t *testing.T, fwd Forwarder) (*Server, *httptest.Server) {
	t.Helper()
	s := &Server{cfg: Config{
		SessionToken: "secret-token",
		Routing:      routing.NewTable(),
		Client:       fwd,
	}}
	ts := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthNeverRequiresAuth(t *testing.T) {
	s := &Server{cfg: Config{SessionToken: "secret"}}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMissingTokenReturns401(t *testing.T) {
	fwd := &fakeForwarder{}
	s, ts := newTestServer(t, fwd)
	_ = s
	resp, err := http.Post(ts.URL+"/v1/messages", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWrongTokenReturns401(t *testing.T) {
	fwd := &fakeForwarder{}
	_, ts := newTestServer(t, fwd)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/messages", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestValidTokenForwardsAndRelaysResponse(t *testing.T) {
	fwd := &fakeForwarder{result: &upstream.Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"ok":true}`))),
	}}
	_, ts := newTestServer(t, fwd)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/messages", bytes.NewReader([]byte(`{"model":"x"}`)))
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
	if fwd.lastFR == nil {
		t.Fatal("Forward was not called")
	}
	if fwd.lastFR.RequestID == "" {
		t.Fatal("RequestID was not minted")
	}
}

func TestForwardErrorWritesEnvelope(t *testing.T) {
	fwd := &fakeForwarder{err: assertErr{}}
	_, ts := newTestServer(t, fwd)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/messages", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestBindWithFallbackFindsNextPort(t *testing.T) {
	ln1, addr1, err := bindWithFallback("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	defer ln1.Close()

	ln2, addr2, err := bindWithFallback(addr1, 3)
	if err != nil {
		t.Fatalf("fallback bind: %v", err)
	}
	defer ln2.Close()

	if addr2 == addr1 {
		t.Fatalf("expected fallback to pick a different address, got %s twice", addr1)
	}
}
