// Package modelmap rewrites Anthropic model names across a backend
// switch: forward substitution on the request, and reverse
// substitution on the response so the guest always sees the model name it
// asked for, not the backend's internal alias.
package modelmap

import (
	"strings"

	"github.com/anyclaude/anyclaude/internal/config"
)

// family keyword search order is opus, sonnet, haiku, by
// case-insensitive substring.
var familyKeywords = []struct {
	keyword string
	pick    func(*config.ModelFamily) string
}{
	{"opus", func(f *config.ModelFamily) string { return f.Opus }},
	{"sonnet", func(f *config.ModelFamily) string { return f.Sonnet }},
	{"haiku", func(f *config.ModelFamily) string { return f.Haiku }},
}

// Forward returns the replacement model name for requested under family, or
// ("", false) if no keyword matches or no replacement is configured for the
// matched family. requested is left unchanged by the caller when ok is
// false.
func Forward(requested string, family *config.ModelFamily) (replacement string, ok bool) {
	if family == nil || requested == "" {
		return "", false
	}
	lower := strings.ToLower(requested)
	for _, k := range familyKeywords {
		if strings.Contains(lower, k.keyword) {
			if v := k.pick(family); v != "" {
				return v, true
			}
			return "", false
		}
	}
	return "", false
}

// RewriteRequestBody substitutes body["model"] in place if family declares a
// remap for it. Returns whether a substitution occurred and the original
// value, so the caller can restore it on the response path.
func RewriteRequestBody(body map[string]any, family *config.ModelFamily) (original string, changed bool) {
	requested, _ := body["model"].(string)
	if requested == "" {
		return "", false
	}
	replacement, ok := Forward(requested, family)
	if !ok {
		return requested, false
	}
	body["model"] = replacement
	return requested, true
}
