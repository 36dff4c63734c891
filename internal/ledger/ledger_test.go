package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

func entry(t domain.LedgerEventType, entityID string, msisdn id.MSISDN) domain.LedgerEvent {
	return domain.LedgerEvent{
		Type:       t,
		EntityID:   entityID,
		EntityType: "offer",
		MSISDN:     msisdn,
		Payload:    map[string]any{"amount": 5.0},
	}
}

func TestRecorderStampsEntries(t *testing.T) {
	store := NewInMemoryStore()
	rec := NewRecorder(store)

	require.NoError(t, rec.Record(context.Background(), entry(domain.LedgerOfferCreated, "o-1", "254700000001")))

	events, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestMemoryStoreQueriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Now()

	first := entry(domain.LedgerOfferCreated, "o-1", "254700000001")
	first.ID, first.Timestamp = "e-1", base
	second := entry(domain.LedgerOfferAccepted, "o-1", "254700000001")
	second.ID, second.Timestamp = "e-2", base.Add(time.Second)
	third := entry(domain.LedgerOfferCreated, "o-2", "254700000002")
	third.ID, third.Timestamp = "e-3", base.Add(2*time.Second)

	for _, e := range []domain.LedgerEvent{first, second, third} {
		require.NoError(t, store.Append(ctx, e))
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e-3", all[0].ID)
	assert.Equal(t, "e-1", all[2].ID)

	byEntity, err := store.ListByEntity(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, byEntity, 2)
	assert.Equal(t, "e-2", byEntity[0].ID)

	byType, err := store.ListByType(ctx, domain.LedgerOfferCreated)
	require.NoError(t, err)
	require.Len(t, byType, 2)

	byMSISDN, err := store.ListByMSISDN(ctx, "254700000002")
	require.NoError(t, err)
	require.Len(t, byMSISDN, 1)
	assert.Equal(t, "e-3", byMSISDN[0].ID)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	first := entry(domain.LedgerDisbursalInitiated, "l-1", "254700000001")
	first.ID, first.Timestamp = "e-1", time.Now().Truncate(time.Millisecond)
	second := entry(domain.LedgerDisbursalCompleted, "l-1", "254700000001")
	second.ID, second.Timestamp = "e-2", time.Now().Truncate(time.Millisecond)

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	events, err := store.ListByEntity(ctx, "l-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e-2", events[0].ID)
	assert.Equal(t, domain.LedgerDisbursalCompleted, events[0].Type)
	assert.Equal(t, 5.0, events[0].Payload["amount"])

	byType, err := store.ListByType(ctx, domain.LedgerDisbursalInitiated)
	require.NoError(t, err)
	require.Len(t, byType, 1)

	byMSISDN, err := store.ListByMSISDN(ctx, "254700000001")
	require.NoError(t, err)
	assert.Len(t, byMSISDN, 2)
}
