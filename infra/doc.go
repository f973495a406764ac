// Package infra holds the adapters of the dispatch engine: SQL and memory
// store backends, the MQTT bridge, metrics sinks, the event journal and
// Sentry reporting. They depend only on interfaces defined under core.
package infra
