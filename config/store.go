package config

import (
	"fmt"

	"github.com/kilianp07/orderdispatch/core/factory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// MaxRetries bounds the retries of serialization failures.
	MaxRetries int `json:"max_retries"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "sqlite", "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store %s requires a dsn", c.Driver)
		}
		return nil
	}
	return fmt.Errorf("unknown store driver %s", c.Driver)
}

// Module returns the backend module configuration.
func (c StoreConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: c.Driver, Conf: map[string]any{"dsn": c.DSN}}
}
