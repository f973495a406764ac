package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/logger"
	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.RecordShipments([]coremetrics.ShipmentRecord{{CompanyID: "c1", Moves: 2}, {CompanyID: "c1", Moves: 1}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := testutil.ToFloat64(sink.shipments.WithLabelValues("c1")); got != 2 {
		t.Fatalf("expected 2 shipments got %v", got)
	}
	_ = sink.RecordAllocationRejection(coremetrics.AllocationRejection{Product: "Apples"})
	if got := testutil.ToFloat64(sink.rejections.WithLabelValues("Apples")); got != 1 {
		t.Fatalf("expected 1 rejection got %v", got)
	}

	_ = sink.RecordGroupFailure(coremetrics.GroupFailure{HeaderID: "h1", Reason: "no_stock_rule", Lines: 2})
	if got := testutil.ToFloat64(sink.failures.WithLabelValues("no_stock_rule")); got != 1 {
		t.Fatalf("expected 1 group failure got %v", got)
	}

	// registering twice reuses the collectors
	again, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	if again.shipments != sink.shipments {
		t.Fatalf("expected shared collector")
	}
}

func TestEventCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink, nil)
	bus.Publish(events.LineEvent{LineID: "l1", From: model.DispatchDraft, To: model.DispatchConfirmed})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(sink.lines.WithLabelValues("draft", "confirmed")) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("events not recorded")
}

type failingLineSink struct{ coremetrics.NopSink }

func (failingLineSink) RecordLineTransition(coremetrics.LineTransition) error {
	return errors.New("sink down")
}

type errorLog struct {
	logger.NopLogger
	msgs chan string
}

func (l errorLog) Errorf(format string, args ...any) { l.msgs <- fmt.Sprintf(format, args...) }

func TestEventCollectorLogsSinkErrors(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := errorLog{msgs: make(chan string, 1)}
	StartEventCollector(ctx, bus, failingLineSink{}, log)
	bus.Publish(events.LineEvent{LineID: "l7", From: model.DispatchDraft, To: model.DispatchConfirmed})

	select {
	case msg := <-log.msgs:
		if !strings.Contains(msg, "l7") || !strings.Contains(msg, "sink down") {
			t.Fatalf("unexpected log %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("sink error not logged")
	}
}
