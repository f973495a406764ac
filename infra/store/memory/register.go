package memory

import "github.com/kilianp07/orderdispatch/core/store"

func init() {
	_ = store.RegisterBackend("memory", func(map[string]any) (store.Backend, error) {
		return New(), nil
	})
}
