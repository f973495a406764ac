package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	apidispatch "github.com/kilianp07/orderdispatch/api/dispatch"
	"github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/infra/journal"
	"github.com/kilianp07/orderdispatch/infra/mqtt"
)

type Config struct {
	Store    StoreConfig        `json:"store"`
	Dispatch dispatch.Config    `json:"dispatch"`
	API      apidispatch.Config `json:"api"`
	MQTT     mqtt.Config        `json:"mqtt"`
	Metrics  metrics.Config     `json:"metrics"`
	Logging  LoggingConfig      `json:"logging"`
	Journal  journal.Config     `json:"journal"`
	Sentry   SentryConfig       `json:"sentry"`
}

// Load reads path and applies K_ environment overrides, e.g.
// K_STORE__DRIVER=sqlite. An empty path loads the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Dispatch.SetDefaults()
	c.API.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
	c.Journal.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", c.Store.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"mqtt", c.MQTT.Validate},
		{"logging", c.Logging.Validate},
		{"journal", c.Journal.Validate},
		{"sentry", c.Sentry.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}
