package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/pkg/errors"
)

func TestPendingRegistry_ClaimIsExclusive(t *testing.T) {
	reg := NewPendingRegistry()
	ctx := context.Background()

	const racers = 20
	var won int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.Claim(ctx, "conv-1", time.Minute)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&won, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&won))
}

func TestPendingRegistry_ClaimedSlotIsNotPresentable(t *testing.T) {
	reg := NewPendingRegistry()
	ctx := context.Background()

	ok, err := reg.Claim(ctx, "conv-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The claim blocks further requests but carries no invoice yet
	_, err = reg.Get(ctx, "conv-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, reg.Set(ctx, "conv-1", "inv-1", time.Minute))

	id, err := reg.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", id)
}

func TestPendingRegistry_ClearReleasesClaim(t *testing.T) {
	reg := NewPendingRegistry()
	ctx := context.Background()

	ok, err := reg.Claim(ctx, "conv-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, reg.Clear(ctx, "conv-1"))

	ok, err = reg.Claim(ctx, "conv-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a released slot must be claimable again")
}

func TestPendingRegistry_ExpiredClaimIsReclaimable(t *testing.T) {
	reg := NewPendingRegistry()
	ctx := context.Background()

	ok, err := reg.Claim(ctx, "conv-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = reg.Claim(ctx, "conv-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
