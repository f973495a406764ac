package metrics_test

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/orderdispatch/core/factory"
	metrics "github.com/kilianp07/orderdispatch/core/metrics"
	_ "github.com/kilianp07/orderdispatch/infra/metrics"
)

// Builtin sinks are registered by infra/metrics; unknown types fail.
func TestMetricsFactory_Builtins(t *testing.T) {
	s, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	if err != nil {
		t.Fatalf("create nop: %v", err)
	}
	if s == nil {
		t.Fatal("expected sink instance")
	}
	if _, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestNewMetricsSink_Multi(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("create nop default: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}

	data := "sinks:\n  - type: nop\n  - type: nop\n"
	var cfg metrics.Config
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	s, err = metrics.NewMetricsSink(cfg.Sinks)
	if err != nil {
		t.Fatalf("create multi: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink, got %T", s)
	}
	if len(m.Sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(m.Sinks))
	}
}

type countingSink struct {
	shipments, rejections int
}

func (c *countingSink) RecordShipments(recs []metrics.ShipmentRecord) error {
	c.shipments += len(recs)
	return nil
}

func (c *countingSink) RecordAllocationRejection(metrics.AllocationRejection) error {
	c.rejections++
	return nil
}

type shipmentsOnly struct{ n int }

func (s *shipmentsOnly) RecordShipments(recs []metrics.ShipmentRecord) error {
	s.n += len(recs)
	return nil
}

func TestMultiSinkForwardsOptionalRecorders(t *testing.T) {
	a := &countingSink{}
	b := &shipmentsOnly{}
	m := metrics.NewMultiSink(a, b)
	if err := m.RecordShipments([]metrics.ShipmentRecord{{ShipmentID: "s1"}, {ShipmentID: "s2"}}); err != nil {
		t.Fatalf("record shipments: %v", err)
	}
	if err := m.RecordAllocationRejection(metrics.AllocationRejection{OrderID: "o1"}); err != nil {
		t.Fatalf("record rejection: %v", err)
	}
	if a.shipments != 2 || b.n != 2 {
		t.Fatalf("shipments not forwarded: %d %d", a.shipments, b.n)
	}
	if a.rejections != 1 {
		t.Fatalf("rejection not forwarded")
	}
}

type closingSink struct {
	shipmentsOnly
	closed bool
}

func (c *closingSink) Close() { c.closed = true }

func TestNewMetricsSinkClosesOnFailure(t *testing.T) {
	built := &closingSink{}
	if err := metrics.RegisterMetricsSink("closing-test", func(map[string]any) (metrics.MetricsSink, error) {
		return built, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "closing-test"}, {Type: "missing"}})
	if err == nil {
		t.Fatal("expected error for unknown second sink")
	}
	if !built.closed {
		t.Fatal("expected first sink closed")
	}
}
