package metrics

import "github.com/kilianp07/orderdispatch/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	// PrometheusAddress serves /metrics when set, e.g. ":9100".
	PrometheusAddress string `json:"prometheus_address" yaml:"prometheus_address"`
}
