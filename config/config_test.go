package config

import (
	"os"
	"path/filepath"
	"testing"
)

//nolint:gocyclo
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `store:
  driver: "sqlite"
  dsn: "file:dispatch.db"
dispatch:
  timezone: "Europe/Paris"
  shipment_hour: 9
api:
  jwt_secret: "s3cret"
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  use_tls: false
  qos:
    event: 1
metrics:
  prometheus_address: ":9100"
  sinks:
    - type: "nop"
logging:
  level: "debug"
journal:
  backend: "jsonl"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"store.driver", cfg.Store.Driver, "sqlite"},
		{"store.dsn", cfg.Store.DSN, "file:dispatch.db"},
		{"store.max_retries", cfg.Store.MaxRetries, 3},
		{"shipment_hour", cfg.Dispatch.Hour(), 9},
		{"header_prefix", cfg.Dispatch.HeaderPrefix, "DSP"},
		{"api.address", cfg.API.Address, ":8080"},
		{"api.jwt_secret", cfg.API.JWTSecret, "s3cret"},
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"username", cfg.MQTT.Username, "user"},
		{"event_topic", cfg.MQTT.EventTopic, "dispatch/events"},
		{"shipment_topic", cfg.MQTT.ShipmentTopic, "stock/shipments/+/state"},
		{"qos", cfg.MQTT.QoS["event"], byte(1)},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus_address", cfg.Metrics.PrometheusAddress, ":9100"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"journal.path", cfg.Journal.Path, "dispatch-journal.jsonl"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("K_STORE__DRIVER", "postgres")
	t.Setenv("K_STORE__DSN", "postgres://localhost/dispatch")
	t.Setenv("K_STORE__MAX_RETRIES", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/dispatch" {
		t.Fatalf("env override not applied: %+v", cfg.Store)
	}
	if cfg.Store.MaxRetries != 7 {
		t.Fatalf("max_retries = %d", cfg.Store.MaxRetries)
	}
	if cfg.Journal.Backend != "none" || cfg.Dispatch.Timezone != "Europe/Paris" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Journal, cfg.Dispatch)
	}
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"driver":   "store:\n  driver: oracle\n",
		"dsn":      "store:\n  driver: sqlite\n",
		"hour":     "dispatch:\n  shipment_hour: 30\n",
		"timezone": "dispatch:\n  timezone: Mars/Olympus\n",
		"mqtt":     "mqtt:\n  enabled: true\n",
		"level":    "logging:\n  level: loud\n",
		"journal":  "journal:\n  backend: kafka\n",
		"format":   "logging:\n  format: xml\n",
		"sentry":   "sentry:\n  traces_sample_rate: 2\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(dir, "config.toml")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
