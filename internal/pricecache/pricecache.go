// Package pricecache keeps the latest quote per (symbol, venue) and a
// background poller that refreshes the subscribed symbols.
package pricecache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/types"
)

// Source fetches a quote directly from the broker.
type Source interface {
	Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error)
}

type key struct {
	code  string
	venue types.Venue
}

// Cache is a thread-safe quote store. Quote serves cached entries younger
// than maxAge and falls through to the source otherwise.
type Cache struct {
	src    Source
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	quotes map[key]types.Quote
	seen   map[key]time.Time
}

func NewCache(src Source, maxAge time.Duration) *Cache {
	return &Cache{
		src:    src,
		maxAge: maxAge,
		now:    time.Now,
		quotes: make(map[key]types.Quote),
		seen:   make(map[key]time.Time),
	}
}

// SetClock replaces the time source used for staleness checks.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Put stores q as the latest quote for its symbol and venue.
func (c *Cache) Put(q types.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{q.StockCode, q.Venue}
	c.quotes[k] = q
	c.seen[k] = c.now()
}

// Get returns the cached quote and whether it is still fresh.
func (c *Cache) Get(stockCode string, venue types.Venue) (types.Quote, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k := key{stockCode, venue}
	q, ok := c.quotes[k]
	if !ok {
		return types.Quote{}, false, false
	}
	return q, true, c.now().Sub(c.seen[k]) <= c.maxAge
}

// Quote implements the engine's price source.
func (c *Cache) Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error) {
	if q, ok, fresh := c.Get(stockCode, venue); ok && fresh {
		return q, nil
	}
	if c.src == nil {
		return types.Quote{}, fmt.Errorf("quote %s %s: %w", stockCode, venue, types.ErrNotFound)
	}
	q, err := c.src.Quote(ctx, stockCode, venue)
	if err != nil {
		return types.Quote{}, err
	}
	if q.Venue == "" {
		q.Venue = venue
	}
	c.Put(q)
	return q, nil
}

// OldestAge is the age of the least recently refreshed entry.
func (c *Cache) OldestAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	var oldest time.Duration
	for _, t := range c.seen {
		if age := now.Sub(t); age > oldest {
			oldest = age
		}
	}
	return oldest
}

// Poller refreshes subscribed symbols on the venue active at each poll.
type Poller struct {
	cache    *Cache
	interval time.Duration
	venueAt  func(time.Time) types.Venue

	mu      sync.Mutex
	symbols map[string]struct{}
}

func NewPoller(cache *Cache, interval time.Duration, venueAt func(time.Time) types.Venue) *Poller {
	if venueAt == nil {
		venueAt = func(time.Time) types.Venue { return types.VenueKRX }
	}
	return &Poller{
		cache:    cache,
		interval: interval,
		venueAt:  venueAt,
		symbols:  make(map[string]struct{}),
	}
}

// Subscribe adds symbols to the polling set and reports how many were new.
func (p *Poller) Subscribe(codes ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := p.symbols[c]; !ok {
			p.symbols[c] = struct{}{}
			added++
		}
	}
	return added
}

func (p *Poller) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.symbols))
	for c := range p.symbols {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	logger.Info(ctx, "Price poller started", "interval", p.interval.String(), "symbols", len(p.Symbols()))
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// PollOnce refreshes every subscribed symbol once. A failing symbol keeps
// its previous quote.
func (p *Poller) PollOnce(ctx context.Context) int {
	if p.cache.src == nil {
		return 0
	}
	venue := p.venueAt(p.cache.now())
	failed := 0
	for _, code := range p.Symbols() {
		if ctx.Err() != nil {
			break
		}
		q, err := p.cache.src.Quote(ctx, code, venue)
		if err != nil {
			failed++
			logger.Warn(ctx, "Price poll failed", "stock_code", code, "venue", string(venue), "error", err.Error())
			continue
		}
		if q.Venue == "" {
			q.Venue = venue
		}
		p.cache.Put(q)
	}
	metrics.SetPriceCacheAge(p.cache.OldestAge())
	return failed
}
