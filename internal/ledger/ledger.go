// Package ledger is the append-only audit trail. There is deliberately no
// update or delete API: the set of entries only grows.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

// Store persists ledger entries. Queries return newest-first.
type Store interface {
	Append(ctx context.Context, event domain.LedgerEvent) error
	List(ctx context.Context) ([]domain.LedgerEvent, error)
	ListByEntity(ctx context.Context, entityID string) ([]domain.LedgerEvent, error)
	ListByType(ctx context.Context, eventType domain.LedgerEventType) ([]domain.LedgerEvent, error)
	ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.LedgerEvent, error)
}

// Recorder stamps and appends ledger entries. It is the only write path into
// the audit trail.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record fills in the entry's ID and timestamp when unset and appends it.
func (r *Recorder) Record(ctx context.Context, event domain.LedgerEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return r.store.Append(ctx, event)
}

// Store exposes the underlying store for the query surface.
func (r *Recorder) Store() Store {
	return r.store
}
