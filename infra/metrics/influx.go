package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/infra/logger"
)

// InfluxSink writes dispatch activity to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// Ping checks that the InfluxDB instance reports a passing health status.
func (s *InfluxSink) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "pass" {
		return fmt.Errorf("influx health status: %s", health.Status)
	}
	return nil
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Ping(ctx); err != nil {
		sink.log.Errorf("influx unavailable, metrics disabled: %v", err)
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordShipments writes one point per emitted shipment.
func (s *InfluxSink) RecordShipments(recs []coremetrics.ShipmentRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range recs {
		p := write.NewPointWithMeasurement("shipment_emitted").
			AddTag("shipment", r.Reference).
			AddTag("order_id", r.OrderID).
			AddTag("partner_id", r.PartnerID).
			AddTag("address_id", r.AddressID).
			AddField("moves", r.Moves).
			AddField("quantity", round3(r.Quantity)).
			AddField("scheduled_date", r.ScheduledDate.UTC().Format(time.RFC3339)).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordAllocationRejection writes an over-allocation rejection.
func (s *InfluxSink) RecordAllocationRejection(ev coremetrics.AllocationRejection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("allocation_rejected").
		AddTag("order_id", ev.OrderID).
		AddTag("product", ev.Product).
		AddField("ordered", round3(ev.Ordered)).
		AddField("dispatched", round3(ev.Dispatched)).
		AddField("available", round3(ev.Available)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordGroupFailure writes a failed shipment group.
func (s *InfluxSink) RecordGroupFailure(ev coremetrics.GroupFailure) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("shipment_group_failed").
		AddTag("header_id", ev.HeaderID).
		AddTag("reason", ev.Reason).
		AddField("lines", ev.Lines).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
