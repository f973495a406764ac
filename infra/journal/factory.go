// Package journal provides file and SQLite implementations of the event
// journal.
package journal

import (
	"fmt"
	"time"

	corejournal "github.com/kilianp07/orderdispatch/core/journal"
)

// Config selects the journal backend.
type Config struct {
	// Backend is "none", "jsonl" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Path == "" {
		switch c.Backend {
		case "jsonl":
			c.Path = "dispatch-journal.jsonl"
		case "sqlite":
			c.Path = "dispatch-journal.db"
		}
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "none", "":
		return nil
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("journal path is required")
		}
		return nil
	}
	return fmt.Errorf("unknown journal backend %s", c.Backend)
}

// New opens the store selected by cfg.
func New(cfg Config) (corejournal.Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	}
	return corejournal.NopStore{}, nil
}

func unixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }
