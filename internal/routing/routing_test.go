package routing

import "testing"

func TestPathPrefixRuleMatch(t *testing.T) {
	r := PathPrefixRule{Prefix: "/teammate", BackendID: "sub"}
	d, ok := r.Match("/teammate/v1/messages")
	if !ok {
		t.Fatal("expected match")
	}
	if d.BackendID != "sub" || d.StripPrefix != "/teammate" || d.Reason != "path prefix /teammate" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestPathPrefixRuleNoMatch(t *testing.T) {
	r := PathPrefixRule{Prefix: "/teammate", BackendID: "sub"}
	if _, ok := r.Match("/v1/messages"); ok {
		t.Fatal("expected no match")
	}
}

func TestTableFirstMatchWins(t *testing.T) {
	table := NewTable(
		PathPrefixRule{Prefix: "/teammate", BackendID: "sub"},
		PathPrefixRule{Prefix: "/team", BackendID: "other"},
	)
	d, ok := table.Evaluate("/teammate/x")
	if !ok || d.BackendID != "sub" {
		t.Fatalf("expected first rule to win, got %+v ok=%v", d, ok)
	}
}

func TestTableNoMatchReturnsFalse(t *testing.T) {
	table := NewTable(PathPrefixRule{Prefix: "/teammate", BackendID: "sub"})
	if _, ok := table.Evaluate("/v1/messages"); ok {
		t.Fatal("expected no decision")
	}
}

func TestEmptyTableSkipsRouting(t *testing.T) {
	table := NewTable()
	if !table.Empty() {
		t.Fatal("table with no rules should report empty")
	}
	var nilTable *Table
	if !nilTable.Empty() {
		t.Fatal("nil table should report empty")
	}
}

func TestStripPrefix(t *testing.T) {
	cases := []struct{ path, prefix, want string }{
		{"/teammate/v1/messages", "/teammate", "/v1/messages"},
		{"/teammate", "/teammate", "/"},
		{"/teammatefoo", "/teammate", "/foo"},
	}
	for _, tc := range cases {
		if got := StripPrefix(tc.path, tc.prefix); got != tc.want {
			t.Errorf("StripPrefix(%q,%q) = %q, want %q", tc.path, tc.prefix, got, tc.want)
		}
	}
}
