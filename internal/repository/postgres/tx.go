package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/event"
)

const (
	txMaxAttempts = 5
	txBaseDelay   = 100 * time.Millisecond
)

// Store implements domain.Store on a pgx connection pool. Transactions run
// with the default read-committed isolation; conflicting transactions are
// retried with increasing delay before the conflict is surfaced.
type Store struct {
	pool *pgxpool.Pool
	pub  event.Publisher
	log  *slog.Logger

	targets  *TargetRepo
	sets     *DistributionSetRepo
	actions  *ActionRepo
	statuses *ActionStatusRepo
}

func NewStore(pool *pgxpool.Pool, pub event.Publisher, log *slog.Logger) *Store {
	return &Store{
		pool:     pool,
		pub:      pub,
		log:      log,
		targets:  NewTargetRepo(pool),
		sets:     NewDistributionSetRepo(pool),
		actions:  NewActionRepo(pool),
		statuses: NewActionStatusRepo(pool),
	}
}

func (s *Store) Targets() domain.TargetRepository                  { return s.targets }
func (s *Store) DistributionSets() domain.DistributionSetRepository { return s.sets }
func (s *Store) Actions() domain.ActionRepository                  { return s.actions }
func (s *Store) ActionStatuses() domain.ActionStatusRepository     { return s.statuses }

func (s *Store) InTx(ctx context.Context, fn domain.TxFunc) error {
	delay := txBaseDelay
	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= txMaxAttempts {
			return err
		}

		s.log.Warn("transaction conflict, retrying", "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (s *Store) runTx(ctx context.Context, fn domain.TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	buf := &event.Buffer{}
	scope := &txRepoSet{
		targets:  NewTargetRepo(tx),
		sets:     NewDistributionSetRepo(tx),
		actions:  NewActionRepo(tx),
		statuses: NewActionStatusRepo(tx),
	}

	if err := fn(ctx, scope, buf); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	// Events buffered during the transaction are delivered only now that the
	// state is committed. Delivery failures do not fail the operation.
	if err := buf.Flush(ctx, s.pub); err != nil {
		s.log.Warn("failed to publish events after commit", "err", err)
	}
	return nil
}

func isRetryable(err error) bool {
	return isSerializationFailure(err) || errors.Is(err, domain.ErrConcurrentModification)
}

type txRepoSet struct {
	targets  *TargetRepo
	sets     *DistributionSetRepo
	actions  *ActionRepo
	statuses *ActionStatusRepo
}

func (t *txRepoSet) Targets() domain.TargetRepository                  { return t.targets }
func (t *txRepoSet) DistributionSets() domain.DistributionSetRepository { return t.sets }
func (t *txRepoSet) Actions() domain.ActionRepository                  { return t.actions }
func (t *txRepoSet) ActionStatuses() domain.ActionStatusRepository     { return t.statuses }
