package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/internal/domain/invoice"
	"abbot/pkg/errors"
)

func TestInvoiceRepository_TransitionIsAtMostOnce(t *testing.T) {
	repo := NewInvoiceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &invoice.Invoice{ID: "inv-1", State: invoice.StatePending}))

	// Many observers race to close the same invoice; exactly one wins
	const racers = 20
	var won int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := repo.Transition(ctx, "inv-1", invoice.StatePaid)
			assert.NoError(t, err)
			if changed {
				atomic.AddInt64(&won, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&won))

	inv, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatePaid, inv.State)
	assert.False(t, inv.ClosedAt.IsZero())
}

func TestInvoiceRepository_TerminalStateIsImmutable(t *testing.T) {
	repo := NewInvoiceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &invoice.Invoice{ID: "inv-1", State: invoice.StatePending}))

	changed, err := repo.Transition(ctx, "inv-1", invoice.StateExpired)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = repo.Transition(ctx, "inv-1", invoice.StatePaid)
	require.NoError(t, err)
	assert.False(t, changed, "an expired invoice must not become paid")

	inv, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StateExpired, inv.State)
}

func TestInvoiceRepository_CreateDuplicate(t *testing.T) {
	repo := NewInvoiceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &invoice.Invoice{ID: "inv-1", State: invoice.StatePending}))
	err := repo.Create(ctx, &invoice.Invoice{ID: "inv-1", State: invoice.StatePending})
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))
}

func TestInvoiceRepository_GetByIDReturnsCopy(t *testing.T) {
	repo := NewInvoiceRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &invoice.Invoice{ID: "inv-1", State: invoice.StatePending}))

	inv, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	inv.State = invoice.StateCancelled

	stored, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatePending, stored.State, "mutating a returned invoice must not affect the store")
}

func TestInvoiceRepository_DeleteTerminalBefore(t *testing.T) {
	repo := NewInvoiceRepository()
	ctx := context.Background()

	for _, id := range []string{"old-paid", "fresh-paid", "still-pending"} {
		require.NoError(t, repo.Create(ctx, &invoice.Invoice{ID: id, State: invoice.StatePending}))
	}

	_, err := repo.Transition(ctx, "old-paid", invoice.StatePaid)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)

	_, err = repo.Transition(ctx, "fresh-paid", invoice.StatePaid)
	require.NoError(t, err)

	removed, err := repo.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByID(ctx, "old-paid")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = repo.GetByID(ctx, "fresh-paid")
	assert.NoError(t, err)
	_, err = repo.GetByID(ctx, "still-pending")
	assert.NoError(t, err, "pending invoices are never purged")
}
