package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/orderdispatch/core/factory"
	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
)

type influxConf struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Strict fails startup when InfluxDB is unreachable instead of
	// disabling the sink.
	Strict bool `json:"strict"`
}

func newInfluxFromConf(conf map[string]any) (coremetrics.MetricsSink, error) {
	var c influxConf
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.URL == "" || c.Bucket == "" {
		return nil, fmt.Errorf("influx sink requires url and bucket")
	}
	if !c.Strict {
		return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
	}
	sink := NewInfluxSink(c.URL, c.Token, c.Org, c.Bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Ping(ctx); err != nil {
		sink.Close()
		return nil, fmt.Errorf("influx %s: %w", c.URL, err)
	}
	return sink, nil
}

// init registers the sinks selectable in metrics.sinks.
func init() {
	_ = coremetrics.RegisterMetricsSink("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})
	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSink()
	})
	_ = coremetrics.RegisterMetricsSink("influx", newInfluxFromConf)
}
