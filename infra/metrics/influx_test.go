package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
)

func TestInfluxSink_RecordShipments(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	day := time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)
	rec := coremetrics.ShipmentRecord{
		Reference:     "WH/OUT/00001",
		OrderID:       "o1",
		PartnerID:     "s1",
		AddressID:     "a1",
		ScheduledDate: day,
		Moves:         2,
		Quantity:      8,
		Time:          now,
	}
	if err := sink.RecordShipments([]coremetrics.ShipmentRecord{rec}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("shipment_emitted").
		AddTag("shipment", "WH/OUT/00001").
		AddTag("order_id", "o1").
		AddTag("partner_id", "s1").
		AddTag("address_id", "a1").
		AddField("moves", 2).
		AddField("quantity", 8.0).
		AddField("scheduled_date", "2025-01-15T07:00:00Z").
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if strings.TrimSpace(body) != expected {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestInfluxSink_RecordAllocationRejection(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.AllocationRejection{OrderID: "o1", Product: "Apples", Ordered: 10, Dispatched: 7, Available: 3, Time: now}
	if err := sink.RecordAllocationRejection(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if !strings.HasPrefix(body, "allocation_rejected,order_id=o1,product=Apples ") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestInfluxFactory(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"name":"influxdb","message":"starting","status":"fail"}`)
			return
		}
		_, _ = io.WriteString(w, `{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[]}`)
	}))
	defer srv.Close()

	conf := map[string]any{"url": srv.URL, "token": "tok", "org": "org", "bucket": "dispatch", "strict": "true"}
	s, err := newInfluxFromConf(conf)
	if err != nil {
		t.Fatalf("strict sink: %v", err)
	}
	if is, ok := s.(*InfluxSink); !ok {
		t.Fatalf("expected *InfluxSink, got %T", s)
	} else {
		is.Close()
	}

	healthy.Store(false)
	if _, err := newInfluxFromConf(conf); err == nil {
		t.Fatal("expected strict sink to fail on unhealthy server")
	}
	conf["strict"] = false
	if s, err := newInfluxFromConf(conf); err != nil {
		t.Fatalf("lenient sink: %v", err)
	} else if _, ok := s.(coremetrics.NopSink); !ok {
		t.Fatalf("expected NopSink fallback, got %T", s)
	}
	if _, err := newInfluxFromConf(map[string]any{"url": srv.URL}); err == nil {
		t.Fatal("expected missing bucket error")
	}
}
