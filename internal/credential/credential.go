// Package credential resolves a backend's auth declaration into an outbound
// auth header value. Pure, side-effect-free.
package credential

import "github.com/anyclaude/anyclaude/internal/config"

// Header is an outbound auth header to attach to the upstream request.
type Header struct {
	Name  string
	Value string
}

// Resolve returns the header to attach for backend's auth declaration, or
// (Header{}, false) when the inbound Authorization header should be
// forwarded unchanged.
func Resolve(b *config.Backend) (Header, bool) {
	switch b.Auth.Mode {
	case config.AuthAPIKey:
		return Header{Name: "x-api-key", Value: b.Auth.Value}, true
	case config.AuthBearer:
		return Header{Name: "Authorization", Value: "Bearer " + b.Auth.Value}, true
	default: // config.AuthForward and anything unrecognized
		return Header{}, false
	}
}

// Configured reports whether a non-forwarding backend actually has the
// credential value it needs. A backend declared as api_key/bearer with no
// value is "not configured" and the Upstream Client must reject it.
func Configured(b *config.Backend) bool {
	switch b.Auth.Mode {
	case config.AuthAPIKey, config.AuthBearer:
		return b.Auth.Value != ""
	default:
		return true
	}
}
