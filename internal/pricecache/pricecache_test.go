package pricecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/types"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]int64
	calls  map[string]int
	fail   map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{prices: map[string]int64{}, calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeSource) Quote(_ context.Context, code string, venue types.Venue) (types.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[code]++
	if f.fail[code] {
		return types.Quote{}, errors.New("boom")
	}
	return types.Quote{StockCode: code, Venue: venue, Last: f.prices[code], Tradable: true}, nil
}

func (f *fakeSource) count(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestQuoteServesFreshAndRefetchesStale(t *testing.T) {
	src := newFakeSource()
	src.prices["005930"] = 70_000
	clk := &clock{t: time.Date(2025, 12, 16, 9, 0, 0, 0, time.UTC)}
	c := NewCache(src, 3*time.Second)
	c.SetClock(clk.now)

	ctx := context.Background()
	q, err := c.Quote(ctx, "005930", types.VenueKRX)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), q.Last)
	assert.Equal(t, 1, src.count("005930"))

	src.prices["005930"] = 71_000
	clk.t = clk.t.Add(2 * time.Second)
	q, err = c.Quote(ctx, "005930", types.VenueKRX)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), q.Last, "fresh entry served from cache")
	assert.Equal(t, 1, src.count("005930"))

	clk.t = clk.t.Add(2 * time.Second)
	q, err = c.Quote(ctx, "005930", types.VenueKRX)
	require.NoError(t, err)
	assert.Equal(t, int64(71_000), q.Last, "stale entry refetched")
	assert.Equal(t, 2, src.count("005930"))
}

func TestVenuesAreCachedSeparately(t *testing.T) {
	src := newFakeSource()
	c := NewCache(src, time.Minute)
	c.Put(types.Quote{StockCode: "005930", Venue: types.VenueKRX, Last: 100})

	_, ok, _ := c.Get("005930", types.VenueNXT)
	assert.False(t, ok)
	q, ok, fresh := c.Get("005930", types.VenueKRX)
	assert.True(t, ok)
	assert.True(t, fresh)
	assert.Equal(t, int64(100), q.Last)
}

func TestPollOnceUsesActiveVenueAndIsolatesFailures(t *testing.T) {
	src := newFakeSource()
	src.prices["005930"] = 70_000
	src.prices["000660"] = 120_000
	src.fail["035420"] = true
	clk := &clock{t: time.Date(2025, 12, 16, 19, 40, 0, 0, time.UTC)}
	c := NewCache(src, time.Minute)
	c.SetClock(clk.now)

	p := NewPoller(c, time.Second, func(time.Time) types.Venue { return types.VenueNXT })
	assert.Equal(t, 3, p.Subscribe("005930", "000660", "035420", ""))
	assert.Equal(t, 0, p.Subscribe("005930"))
	assert.Equal(t, []string{"000660", "005930", "035420"}, p.Symbols())

	failed := p.PollOnce(context.Background())
	assert.Equal(t, 1, failed)

	q, ok, _ := c.Get("000660", types.VenueNXT)
	require.True(t, ok)
	assert.Equal(t, int64(120_000), q.Last)
	_, ok, _ = c.Get("035420", types.VenueNXT)
	assert.False(t, ok)

	clk.t = clk.t.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.OldestAge())
}

func TestRunStopsOnCancel(t *testing.T) {
	src := newFakeSource()
	src.prices["005930"] = 1
	c := NewCache(src, time.Minute)
	p := NewPoller(c, 10*time.Millisecond, nil)
	p.Subscribe("005930")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.count("005930") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
