package upstream

import "github.com/anyclaude/anyclaude/internal/errs"

// Error constructors for the fixed error-to-status mapping. All are
// *errs.Classified so a proxyserver handler can write them out uniformly.

func errBackendNotFound(id string) *errs.Classified {
	return errs.New(errs.KindConfig, "backend_not_found", "backend not found: "+id)
}

func errBackendNotConfigured(id string) *errs.Classified {
	return errs.New(errs.KindConfig, "backend_not_configured", "backend missing required credentials: "+id)
}

func errConnectionFailed(err error) *errs.Classified {
	return errs.Wrap(errs.KindNetwork, "connection_failed", "connection to upstream failed after retries", err)
}

func errRequestTimeout(err error) *errs.Classified {
	return errs.Wrap(errs.KindTimeout, "request_timeout", "upstream request timed out", err)
}

func errStreamIdleTimeout(err error) *errs.Classified {
	return errs.Wrap(errs.KindTimeout, "stream_idle_timeout", "upstream stream went idle", err)
}

func errInvalidRequest(err error) *errs.Classified {
	return errs.Wrap(errs.KindProtocol, "invalid_request", "invalid incoming request", err)
}

func errInternal(err error) *errs.Classified {
	return errs.Wrap(errs.KindInternal, "internal_error", "internal error forwarding request", err)
}
