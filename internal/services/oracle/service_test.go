package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/pkg/errors"
)

// fakeSource is a scriptable price source
type fakeSource struct {
	mu      sync.Mutex
	rate    decimal.Decimal
	err     error
	calls   int32
	blockCh chan struct{} // when set, SatsPerUSD blocks until closed
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) SatsPerUSD(ctx context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate, f.err
}

func (f *fakeSource) set(rate decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = rate
	f.err = err
}

func (f *fakeSource) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

// testClock is an adjustable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestOracle(src *fakeSource, clock *testClock) *Service {
	return NewService(src, Config{
		StalenessWindow: 15 * time.Minute,
		Now:             clock.Now,
	})
}

func TestRate_CachesWithinStalenessWindow(t *testing.T) {
	src := &fakeSource{rate: decimal.NewFromInt(1500)}
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestOracle(src, clock)

	r1, err := svc.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, r1.SatsPerFiat.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 1, src.callCount())

	// Within the window the cached rate is reused, even if the live price moved
	src.set(decimal.NewFromInt(9999), nil)
	clock.Advance(14 * time.Minute)

	r2, err := svc.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, r2.SatsPerFiat.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 1, src.callCount())
}

func TestRate_StaleCacheTriggersRefresh(t *testing.T) {
	src := &fakeSource{rate: decimal.NewFromInt(1500)}
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestOracle(src, clock)

	_, err := svc.Rate(context.Background())
	require.NoError(t, err)

	src.set(decimal.NewFromInt(2000), nil)
	clock.Advance(16 * time.Minute)

	r, err := svc.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, r.SatsPerFiat.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 2, src.callCount())
}

func TestRate_FallsBackToStaleRateOnFetchFailure(t *testing.T) {
	src := &fakeSource{rate: decimal.NewFromInt(1500)}
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestOracle(src, clock)

	_, err := svc.Rate(context.Background())
	require.NoError(t, err)

	src.set(decimal.Zero, errors.New("upstream down"))
	clock.Advance(time.Hour)

	// Degraded mode: prior rate is served instead of failing the conversion
	r, err := svc.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, r.SatsPerFiat.Equal(decimal.NewFromInt(1500)))
}

func TestRate_NoPriorRateSurfacesError(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)

	_, err := svc.Rate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateUnavailable))
}

func TestRate_ConcurrentCallersShareOneFetch(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{rate: decimal.NewFromInt(1500), blockCh: block}
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)

	const callers = 10
	results := make(chan decimal.Decimal, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.Rate(context.Background())
			assert.NoError(t, err)
			results <- r.SatsPerFiat
		}()
	}

	// Give all goroutines time to reach the oracle before the fetch returns
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()
	close(results)

	for got := range results {
		assert.True(t, got.Equal(decimal.NewFromInt(1500)))
	}
	assert.Equal(t, 1, src.callCount(), "concurrent callers must share one in-flight fetch")
}

func TestToSats_FloorsTinyAmounts(t *testing.T) {
	src := &fakeSource{rate: decimal.NewFromInt(1000)} // 1000 sats per USD
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)

	// 0.00001 USD * 1000 sats/USD = 0.01 sats, truncates to 0, floors to 50
	sats, err := svc.ToSats(context.Background(), decimal.RequireFromString("0.00001"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), sats)
}

func TestToSats_NormalConversion(t *testing.T) {
	src := &fakeSource{rate: decimal.RequireFromString("1538.46")}
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)

	sats, err := svc.ToSats(context.Background(), decimal.RequireFromString("2.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(3846), sats)
}

// Converting fiat to sats and back must land within one minor currency unit
// of the original, for any amount whose sats value clears the 50-sat floor.
func TestConversion_RoundTripWithinOneCent(t *testing.T) {
	// 5000 sats/USD puts even 0.01 USD at the floor exactly
	src := &fakeSource{rate: decimal.NewFromInt(5000)}
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)
	ctx := context.Background()

	oneCent := decimal.RequireFromString("0.01")
	for _, amount := range []string{"0.01", "1", "10", "50000"} {
		fiat := decimal.RequireFromString(amount)

		sats, err := svc.ToSats(ctx, fiat)
		require.NoError(t, err)

		back, err := svc.ToFiat(ctx, sats)
		require.NoError(t, err)

		diff := back.Sub(fiat).Abs()
		assert.True(t, diff.LessThanOrEqual(oneCent),
			"round trip of %s drifted by %s (got %s)", amount, diff, back)
	}
}

func TestToFiat_RoundsAndFloors(t *testing.T) {
	src := &fakeSource{rate: decimal.NewFromInt(1500)}
	clock := &testClock{now: time.Now()}
	svc := newTestOracle(src, clock)

	fiat, err := svc.ToFiat(context.Background(), 5000)
	require.NoError(t, err)
	assert.True(t, fiat.Equal(decimal.RequireFromString("3.33")), "got %s", fiat)

	// One sat is far below a cent; clamps to the smallest fiat unit
	fiat, err = svc.ToFiat(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, fiat.Equal(decimal.RequireFromString("0.01")))
}
