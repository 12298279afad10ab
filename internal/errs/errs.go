// Package errs defines the classified error taxonomy shared by the proxy
// core, and the standard JSON error envelope returned to the guest.
package errs

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies an error into the taxonomy from the error handling design.
type Kind string

const (
	KindConfig    Kind = "config"
	KindBackend   Kind = "backend"
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindUpstream  Kind = "upstream"
	KindTransform Kind = "transform"
	KindProtocol  Kind = "protocol"
	KindProcess   Kind = "process"
	KindIPC       Kind = "ipc"
	KindInternal  Kind = "internal"
)

// Classified is a typed error carrying enough information to pick an HTTP
// status and to build the standard JSON error envelope.
type Classified struct {
	Kind    Kind
	Code    string // short machine-readable code, e.g. "backend_not_found"
	Message string
	Status  int // explicit HTTP status; 0 means derive from Kind
	Err     error
}

func (e *Classified) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Classified) Unwrap() error { return e.Err }

// HTTPStatus returns the status code this error should produce on the wire.
func (e *Classified) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindConfig, KindBackend:
		return http.StatusBadGateway
	case KindNetwork:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindProtocol:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New builds a Classified error.
func New(kind Kind, code, message string) *Classified {
	return &Classified{Kind: kind, Code: code, Message: message}
}

// Wrap builds a Classified error around an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Classified {
	return &Classified{Kind: kind, Code: code, Message: message, Err: err}
}

// Envelope is the standard JSON error body returned to the guest.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteHTTP writes the classified error as the standard JSON envelope.
func WriteHTTP(w http.ResponseWriter, requestID string, err error) {
	var c *Classified
	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()

	if asClassified, ok := err.(*Classified); ok {
		c = asClassified
		status = c.HTTPStatus()
		if c.Code != "" {
			code = c.Code
		} else {
			code = string(c.Kind)
		}
		message = c.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: EnvelopeBody{
		Type:      code,
		Message:   message,
		RequestID: requestID,
	}})
}
