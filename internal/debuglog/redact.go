package debuglog

import (
	"net/http"
	"strings"
)

// redactedHeaders have their values replaced by redactedPlaceholder in any
// header preview, regardless of the logging level.
var redactedHeaders = []string{
	"Authorization", "Proxy-Authorization", "X-Api-Key", "Cookie", "Set-Cookie",
}

// redactedJSONKeys are blanked out of any JSON body preview, case-sensitive
// match on the key as it appears in the document.
var redactedJSONKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"access_token":  true,
	"refresh_token": true,
	"secret":        true,
	"password":      true,
}

const redactedPlaceholder = "[REDACTED]"

// RedactHeaders returns a copy of h with the always-redacted keys blanked.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range redactedHeaders {
		if _, ok := out[http.CanonicalHeaderKey(k)]; ok {
			out[http.CanonicalHeaderKey(k)] = []string{redactedPlaceholder}
		}
	}
	return out
}

// RedactJSON walks a parsed JSON value (map[string]any / []any / scalars, as
// produced by encoding/json) and blanks any object value whose key is in
// redactedJSONKeys. Mutates and returns v.
func RedactJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, nested := range val {
			if redactedJSONKeys[k] {
				val[k] = redactedPlaceholder
				continue
			}
			val[k] = RedactJSON(nested)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = RedactJSON(item)
		}
		return val
	default:
		return v
	}
}

// MaskTokens scans free-form text for plausible bearer-token-like runs (long
// alphanumeric/dash/underscore/dot sequences) and masks everything but a
// short prefix and the last 4 characters, for previews that are not JSON.
func MaskTokens(s string) string {
	const minTokenLen = 20
	var b strings.Builder
	start := -1

	flush := func(end int) {
		if start == -1 {
			return
		}
		run := s[start:end]
		if len(run) >= minTokenLen {
			b.WriteString(maskRun(run))
		} else {
			b.WriteString(run)
		}
		start = -1
	}

	for i, r := range s {
		if isTokenRune(r) {
			if start == -1 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(s))
	return b.String()
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}

func maskRun(run string) string {
	const prefixLen = 4
	if len(run) <= prefixLen+4 {
		return run
	}
	prefix := run[:prefixLen]
	suffix := run[len(run)-4:]
	return prefix + strings.Repeat("*", len(run)-prefixLen-4) + suffix
}
