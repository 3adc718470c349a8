package quota

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(limits map[string]int, opts ...Option) (*Ledger, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now), WithLocation(time.UTC)}, opts...)
	return New(limits, opts...), clk
}

func TestAllowDeniesAtLimitAndResetsNextDay(t *testing.T) {
	l, clk := newTestLedger(map[string]int{Polygon: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(Polygon), "call %d should be allowed", i)
		l.Record(Polygon)
	}
	assert.False(t, l.Allow(Polygon), "budget spent")
	assert.Equal(t, 0, l.Remaining(Polygon))

	// Same day, later: still denied.
	clk.Advance(13 * time.Hour)
	assert.False(t, l.Allow(Polygon))

	// Date advanced past midnight: counter zeroes on first check.
	clk.Advance(2 * time.Hour)
	assert.True(t, l.Allow(Polygon))
	assert.Equal(t, 3, l.Remaining(Polygon))
	assert.Equal(t, "2026-03-03", l.Snapshot()[Polygon].LastReset)
}

func TestUnboundedProviderAlwaysAllowed(t *testing.T) {
	l, _ := newTestLedger(map[string]int{Finnhub: Unbounded})
	for i := 0; i < 1000; i++ {
		l.Record(Finnhub)
	}
	assert.True(t, l.Allow(Finnhub))
	assert.True(t, l.Allow("never-configured"))
	assert.Equal(t, -1, l.Remaining(Finnhub))
	assert.False(t, l.Limited(Finnhub))
}

func TestExhaust(t *testing.T) {
	l, clk := newTestLedger(map[string]int{Gemini: 800, Finnhub: 0})

	require.True(t, l.Allow(Gemini))
	l.Exhaust(Gemini)
	assert.False(t, l.Allow(Gemini))
	assert.Equal(t, 800, l.Snapshot()[Gemini].CallsMade)

	// Exhausting an unbounded provider is a no-op.
	l.Exhaust(Finnhub)
	assert.True(t, l.Allow(Finnhub))

	clk.Advance(24 * time.Hour)
	assert.True(t, l.Allow(Gemini))
}

func TestResetHonoursLocation(t *testing.T) {
	// 18:00 UTC on Mar 2 is 23:30 IST, half an hour before the IST reset.
	clk := &fakeClock{t: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}
	ist := time.FixedZone("IST", 5*3600+1800)
	l := New(map[string]int{AlphaVantage: 1}, WithClock(clk.Now), WithLocation(ist))

	l.Record(AlphaVantage)
	assert.False(t, l.Allow(AlphaVantage))

	clk.Advance(2 * time.Hour) // 20:00 UTC = 01:30 IST next day
	assert.True(t, l.Allow(AlphaVantage))
}

func TestConcurrentRecordCountsEveryCall(t *testing.T) {
	l, _ := newTestLedger(map[string]int{Polygon: 10000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow(Polygon) {
					l.Record(Polygon)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, l.Snapshot()[Polygon].CallsMade)
}

func TestProvidersSorted(t *testing.T) {
	l, _ := newTestLedger(map[string]int{Polygon: 1, AlphaVantage: 1, Gemini: 1})
	assert.Equal(t, []string{AlphaVantage, Gemini, Polygon}, l.Providers())
}

// ── Persistence ──

func TestBoltStoreSurvivesRestartSameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.db")
	limits := map[string]int{Polygon: 5}

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	l, _ := newTestLedger(limits, WithStore(store))
	l.Record(Polygon)
	l.Record(Polygon)
	require.NoError(t, store.Close())

	store2, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store2.Close()
	l2, _ := newTestLedger(limits, WithStore(store2))
	assert.Equal(t, 3, l2.Remaining(Polygon))
}

func TestBoltStoreStaleDateResetsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(Polygon, State{CallsMade: 5, LastReset: "2026-03-01", DailyLimit: 5}))

	l, _ := newTestLedger(map[string]int{Polygon: 5}, WithStore(store))
	assert.True(t, l.Allow(Polygon))
	assert.Equal(t, 0, l.Snapshot()[Polygon].CallsMade)
}

type failingStore struct{ saves int }

func (f *failingStore) Load() (map[string]State, error) { return nil, errors.New("disk gone") }
func (f *failingStore) Save(string, State) error {
	f.saves++
	return errors.New("disk gone")
}

func TestStoreErrorsNeverBlockCalls(t *testing.T) {
	fs := &failingStore{}
	l, _ := newTestLedger(map[string]int{Polygon: 2}, WithStore(fs))
	l.Record(Polygon)
	assert.True(t, l.Allow(Polygon))
	assert.Equal(t, 1, fs.saves)
}
