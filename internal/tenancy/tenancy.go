// Package tenancy carries the current tenant through context.
package tenancy

import "context"

type contextKey string

const (
	tenantKey contextKey = "tenant"
	systemKey contextKey = "system"
)

const DefaultTenant = "default"

func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func FromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey).(string); ok && t != "" {
		return t
	}
	return DefaultTenant
}

// AsSystem marks the context as running under the elevated system context,
// used when resolving tenant configuration on behalf of a caller.
func AsSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemKey, true)
}

func IsSystem(ctx context.Context) bool {
	s, ok := ctx.Value(systemKey).(bool)
	return ok && s
}
