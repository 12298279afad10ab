package modelmap

import "net/http"

// StripContentLength removes the upstream Content-Length header whenever a
// body rewriter altered, or might alter, response bytes. The downstream
// server recomputes it, or relies on chunked transfer for SSE, which has
// no Content-Length to begin with.
func StripContentLength(h http.Header) {
	h.Del("Content-Length")
}
