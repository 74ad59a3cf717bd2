// Package extract streams tenant-owned rows out of the tenant store during
// backup and writes them back during restore. Every read and write is scoped
// to one tenant through an explicit context value established before the
// first query.
package extract

import (
	"context"

	"org-backup-engine/internal/errors"
)

type tenantKey struct{}

// WithTenant returns a context scoped to the given tenant. All extractor and
// writer operations require a tenant-scoped context.
func WithTenant(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, orgID)
}

// TenantFrom extracts the tenant scope from a context. A context without a
// tenant scope is a caller bug and yields a validation error.
func TenantFrom(ctx context.Context) (string, error) {
	orgID, ok := ctx.Value(tenantKey{}).(string)
	if !ok || orgID == "" {
		return "", errors.NewValidationError("operation requires a tenant-scoped context", nil)
	}
	return orgID, nil
}
