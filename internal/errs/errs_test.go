package errs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatusDerivesFromKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindConfig, http.StatusBadGateway},
		{KindBackend, http.StatusBadGateway},
		{KindNetwork, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindProtocol, http.StatusBadRequest},
		{KindUpstream, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := New(tc.kind, "code", "message")
		if got := e.HTTPStatus(); got != tc.want {
			t.Errorf("kind %s: status = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestHTTPStatusExplicitOverride(t *testing.T) {
	e := &Classified{Kind: KindUpstream, Status: 404}
	if got := e.HTTPStatus(); got != 404 {
		t.Errorf("status = %d, want 404", got)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := New(KindNetwork, "dial", "dial failed")
	wrapped := Wrap(KindBackend, "forward_failed", "could not forward", cause)
	if wrapped.Unwrap() != cause {
		t.Errorf("Unwrap did not return the original cause")
	}
}

func TestWriteHTTPEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, "req-1", New(KindBackend, "backend_not_found", "backend X not found"))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body Envelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Type != "backend_not_found" || body.Error.RequestID != "req-1" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}

func TestWriteHTTPPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, "req-2", &testErr{"boom"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
