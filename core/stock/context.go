package stock

import "context"

type suppressKey struct{}

// WithSuppression returns a context that disables automatic shipment
// generation for the lifetime of the enclosing operation.
func WithSuppression(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// Suppressed reports whether ctx carries the suppression flag.
func Suppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
