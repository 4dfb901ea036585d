package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/internal/repository/memory"
	"abbot/pkg/errors"
)

func TestDebit_SufficientFunds(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())
	ctx := context.Background()

	_, err := svc.Credit(ctx, "conv-1", 1000)
	require.NoError(t, err)

	res, err := svc.Debit(ctx, "conv-1", 400)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(600), res.Remaining)
}

func TestDebit_InsufficientFundsIsNotAnError(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())
	ctx := context.Background()

	_, err := svc.Credit(ctx, "conv-1", 100)
	require.NoError(t, err)

	res, err := svc.Debit(ctx, "conv-1", 101)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(100), res.Remaining, "refused debit must leave the balance untouched")
}

func TestDebit_UnknownConversation(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())

	res, err := svc.Debit(context.Background(), "nobody", 1)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestDebit_NegativeAmountRejected(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())

	_, err := svc.Debit(context.Background(), "conv-1", -5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNegativeAmount))

	_, err = svc.Credit(context.Background(), "conv-1", -5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNegativeAmount))
}

func TestBalance_UnknownConversationIsZero(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())

	sats, err := svc.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sats)
}

// Concurrent debits against one balance must never overdraw: the sum of
// successful debits is bounded by the credited amount.
func TestDebit_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())
	ctx := context.Background()

	const initial = 1000
	const workers = 50
	const debitAmount = 30 // 50 * 30 = 1500 > 1000

	_, err := svc.Credit(ctx, "conv-1", initial)
	require.NoError(t, err)

	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Debit(ctx, "conv-1", debitAmount)
			assert.NoError(t, err)
			if res.OK {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	total := atomic.LoadInt64(&succeeded) * debitAmount
	assert.LessOrEqual(t, total, int64(initial))

	remaining, err := svc.Balance(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(initial)-total, remaining)
	assert.GreaterOrEqual(t, remaining, int64(0))
}

func TestCredit_CreatesAndAccumulates(t *testing.T) {
	svc := NewService(memory.NewBalanceRepository())
	ctx := context.Background()

	newBalance, err := svc.Credit(ctx, "conv-1", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), newBalance)

	newBalance, err = svc.Credit(ctx, "conv-1", 750)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), newBalance)
}
