package sqlstore

import (
	"context"
	"time"

	"github.com/kilianp07/orderdispatch/core/factory"
	"github.com/kilianp07/orderdispatch/core/store"
)

// init registers the sqlite and postgres backends.
func init() {
	for _, name := range []string{"sqlite", "postgres"} {
		driver := name
		if name == "postgres" {
			driver = "pgx"
		}
		_ = store.RegisterBackend(name, func(conf map[string]any) (store.Backend, error) {
			var c Config
			if err := factory.Decode(conf, &c); err != nil {
				return nil, err
			}
			c.Driver = driver
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return Open(ctx, c)
		})
	}
}
