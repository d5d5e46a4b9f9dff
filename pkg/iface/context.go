package iface

import "context"

type ctxKey struct{}

// NewContext returns a context carrying env as the current namespace.
// Lifecycle passes install it so entities can resolve their peers by name.
func NewContext(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, ctxKey{}, env)
}

// FromContext returns the namespace installed by NewContext.
func FromContext(ctx context.Context) (Env, bool) {
	env, ok := ctx.Value(ctxKey{}).(Env)
	return env, ok
}
