// Package routing implements the Routing Middleware: an ordered list
// of rules evaluated against an incoming request, first match wins, used to
// steer sub-agent traffic to a different backend than the interactive
// session's active one.
package routing

import "strings"

// Decision is attached to a request when a rule matches.
type Decision struct {
	BackendID   string
	Reason      string
	StripPrefix string
}

// Rule matches an incoming request and, on match, returns the decision to
// attach. The trait is deliberately generic: a future rule could match on
// headers or bodies instead of the path.
type Rule interface {
	Match(path string) (Decision, bool)
}

// PathPrefixRule matches when the request path starts with Prefix and
// routes to BackendID, stripping Prefix from the forwarded path.
type PathPrefixRule struct {
	Prefix    string
	BackendID string
}

// Match implements Rule.
func (r PathPrefixRule) Match(path string) (Decision, bool) {
	if r.Prefix == "" || !strings.HasPrefix(path, r.Prefix) {
		return Decision{}, false
	}
	return Decision{
		BackendID:   r.BackendID,
		Reason:      "path prefix " + r.Prefix,
		StripPrefix: r.Prefix,
	}, true
}

// Table is the ordered rule list. An empty Table means the caller should
// skip routing entirely, keeping the zero-rule per-request cost at zero
// so an unconfigured table costs nothing per request.
type Table struct {
	rules []Rule
}

// NewTable builds a routing table from an ordered rule list.
func NewTable(rules ...Rule) *Table {
	return &Table{rules: rules}
}

// Empty reports whether the table has no rules configured.
func (t *Table) Empty() bool {
	return t == nil || len(t.rules) == 0
}

// Evaluate returns the first matching rule's decision, in rule order. If no
// rule matches, ok is false and the caller falls back to Backend State's
// default backend.
func (t *Table) Evaluate(path string) (Decision, bool) {
	if t == nil {
		return Decision{}, false
	}
	for _, rule := range t.rules {
		if d, ok := rule.Match(path); ok {
			return d, true
		}
	}
	return Decision{}, false
}

// StripPrefix rewrites path by removing prefix, leaving a leading slash
// intact.
func StripPrefix(path, prefix string) string {
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}
