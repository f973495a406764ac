// Package factory provides a small generic registry used to instantiate
// store backends and metrics sinks from configuration. Modules are defined
// by a type string and a map of raw settings. Factories decode the settings
// into typed structs and return the concrete implementation.
//
//	reg := factory.NewRegistry[store.Backend]()
//	reg.Register("sqlite", func(conf map[string]any) (store.Backend, error) {
//	    var c struct{ DSN string `json:"dsn"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: c.DSN})
//	})
//	b, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": "dispatch.db"}})
package factory
