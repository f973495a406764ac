package dispatch

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Config defines dispatch-related settings.
type Config struct {
	// Timezone in which scheduled dates are normalized.
	Timezone string `json:"timezone"`
	// ShipmentHour is the local hour given to every shipment. Unset selects
	// DefaultShipmentHour; 0 is midnight.
	ShipmentHour   *int   `json:"shipment_hour"`
	HeaderSequence string `json:"header_sequence"`
	HeaderPrefix   string `json:"header_prefix"`
}

// DefaultShipmentHour is used when no shipment hour is configured.
const DefaultShipmentHour = 8

// Hour returns the configured shipment hour.
func (c Config) Hour() int {
	if c.ShipmentHour == nil {
		return DefaultShipmentHour
	}
	return *c.ShipmentHour
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Europe/Paris"
	}
	if c.ShipmentHour == nil {
		h := DefaultShipmentHour
		c.ShipmentHour = &h
	}
	if c.HeaderSequence == "" {
		c.HeaderSequence = "dispatch.header"
	}
	if c.HeaderPrefix == "" {
		c.HeaderPrefix = "DSP"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if h := c.Hour(); h < 0 || h > 23 {
		return fmt.Errorf("shipment_hour must be within 0-23, got %d", h)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}
