package event

import (
	"context"
	"errors"
)

// Buffer queues events inside a transactional scope. The transaction runner
// flushes it after a successful commit; on rollback the buffer is dropped
// with the transaction, so readers reacting to an event always observe the
// committed state.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Add(e Event) {
	b.pending = append(b.pending, e)
}

func (b *Buffer) Len() int {
	return len(b.pending)
}

// Flush publishes all buffered events in order. Delivery is best effort:
// every event is attempted and failures are joined.
func (b *Buffer) Flush(ctx context.Context, pub Publisher) error {
	var errs []error
	for _, e := range b.pending {
		if err := pub.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	b.pending = nil
	return errors.Join(errs...)
}
