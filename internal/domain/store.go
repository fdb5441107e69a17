package domain

import (
	"context"

	"github.com/tidegate/armada/internal/event"
)

// RepoSet bundles the entity repositories of one storage scope, either the
// root connection or a single transaction.
type RepoSet interface {
	Targets() TargetRepository
	DistributionSets() DistributionSetRepository
	Actions() ActionRepository
	ActionStatuses() ActionStatusRepository
}

// TxFunc runs inside one transaction. Events added to the buffer are
// published only after the transaction commits and are discarded on rollback.
type TxFunc func(ctx context.Context, tx RepoSet, events *event.Buffer) error

// Store is the durable backend of the assignment engine. InTx runs fn in a
// read-committed transaction and transparently retries it, with backoff, when
// it fails due to a concurrency conflict; fn must therefore be safely
// re-entrant for its scope.
type Store interface {
	RepoSet
	InTx(ctx context.Context, fn TxFunc) error
}

// QuotaProvider resolves the assignment quotas of the installation.
type QuotaProvider interface {
	MaxTargetsPerManualAssignment() int
	MaxActionsPerTarget() int
}

// TenantConfigProvider resolves per-tenant configuration. Implementations are
// called under an elevated system context.
type TenantConfigProvider interface {
	// ActionsAutocloseEnabled controls whether superseded actions are closed
	// silently (true) or canceled with a device notification (false).
	ActionsAutocloseEnabled(ctx context.Context, tenant string) (bool, error)
}
