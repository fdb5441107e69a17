package service

import (
	"context"
	"fmt"

	"github.com/tidegate/armada/internal/tenancy"
)

// StaticTenantConfig serves the same tenant settings for every tenant,
// sourced from the process configuration.
type StaticTenantConfig struct {
	Autoclose bool
}

func (c StaticTenantConfig) ActionsAutocloseEnabled(ctx context.Context, tenant string) (bool, error) {
	// Tenant settings are internal and must only be read under the elevated
	// system context, never on behalf of a caller.
	if !tenancy.IsSystem(ctx) {
		return false, fmt.Errorf("tenant configuration for %q requires system context", tenant)
	}
	return c.Autoclose, nil
}
