// Package metrics defines the interfaces through which the dispatch engine
// reports shipments and allocation activity. Sinks such as PromSink and
// InfluxSink (infra/metrics) implement MetricsSink and any of the optional
// recorder interfaces; NewMultiSink fans out to several of them and is
// returned automatically by NewMetricsSink when multiple sinks are configured.
package metrics
