package store

import "github.com/kilianp07/orderdispatch/core/factory"

var backendRegistry = factory.NewRegistry[Backend]()

// RegisterBackend adds a backend factory identified by name.
func RegisterBackend(name string, f factory.Factory[Backend]) error {
	return backendRegistry.Register(name, f)
}

// NewBackend creates the backend described by cfg.
func NewBackend(cfg factory.ModuleConfig) (Backend, error) {
	return backendRegistry.Create(cfg)
}
