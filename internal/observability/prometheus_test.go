package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusExporterCollectsPerBackendCounters(t *testing.T) {
	h := New(10)
	h.Push(rec("a", 200, 10, nil))
	h.Push(rec("a", 500, 10, nil))

	exp := NewPrometheusExporter(h)
	reg := prometheus.NewRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() != "anyclaude_requests_total" {
			continue
		}
		found = true
		for _, m := range mf.Metric {
			if labelValue(m, "backend") == "a" && m.Counter.GetValue() != 2 {
				t.Fatalf("anyclaude_requests_total{backend=a} = %v, want 2", m.Counter.GetValue())
			}
		}
	}
	if !found {
		t.Fatal("anyclaude_requests_total metric family not found")
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.Label {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
