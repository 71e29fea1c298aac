// Package symbols resolves stock codes to display names.
//
// Sources are consulted in order: the watchlist, the broker quote, then a
// scrape of a public quote page. Resolved names are cached with a TTL; a
// stale entry is still returned when every source fails, and the code
// itself is the last resort.
package symbols

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/store"
	"trend-trader/internal/types"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Watchlist is the name source configured by the operator.
type Watchlist interface {
	Get(code string) (store.WatchItem, bool)
	Codes() []string
}

// QuoteSource is the broker quote call; its StockName is used as a hint.
type QuoteSource interface {
	Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error)
}

type entry struct {
	name string
	at   time.Time
}

// Lookup implements interfaces.SymbolLookup.
type Lookup struct {
	watchlist Watchlist
	broker    QuoteSource
	pageURL   string
	selector  string
	ttl       time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

var _ interfaces.SymbolLookup = (*Lookup)(nil)

type Option func(*Lookup)

// WithQuotePage sets the scrape target. pageURL holds one %s for the code.
func WithQuotePage(pageURL, selector string) Option {
	return func(l *Lookup) {
		l.pageURL = pageURL
		l.selector = selector
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(l *Lookup) { l.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(l *Lookup) { l.now = now }
}

// New builds a lookup. watchlist and broker may be nil.
func New(watchlist Watchlist, broker QuoteSource, opts ...Option) *Lookup {
	l := &Lookup{
		watchlist: watchlist,
		broker:    broker,
		ttl:       24 * time.Hour,
		timeout:   10 * time.Second,
		now:       time.Now,
		cache:     make(map[string]entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FromConfig builds a lookup from the symbols section of the config.
func FromConfig(cfg *store.Config, watchlist Watchlist, broker QuoteSource) *Lookup {
	return New(watchlist, broker,
		WithQuotePage(cfg.Symbols.QuotePageURL, cfg.Symbols.NameSelector),
		WithTTL(time.Duration(cfg.Symbols.CacheTTLMin)*time.Minute),
	)
}

// Name never fails; an unresolvable code is returned unchanged.
func (l *Lookup) Name(ctx context.Context, code string) string {
	if l.watchlist != nil {
		if it, ok := l.watchlist.Get(code); ok && it.Name != "" {
			return it.Name
		}
	}

	l.mu.RLock()
	e, cached := l.cache[code]
	l.mu.RUnlock()
	if cached && l.now().Sub(e.at) < l.ttl {
		return e.name
	}

	name, err := l.resolve(ctx, code)
	if err != nil {
		logger.Debug(ctx, "Symbol name unresolved", "stock_code", code, "error", err.Error())
		if cached {
			return e.name
		}
		return code
	}
	l.store(code, name)
	return name
}

// Refresh re-resolves every cached code and every watchlist code.
func (l *Lookup) Refresh(ctx context.Context) error {
	codes := map[string]struct{}{}
	l.mu.RLock()
	for c := range l.cache {
		codes[c] = struct{}{}
	}
	l.mu.RUnlock()
	if l.watchlist != nil {
		for _, c := range l.watchlist.Codes() {
			codes[c] = struct{}{}
		}
	}

	var errs []error
	for code := range codes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name, err := l.resolve(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		l.store(code, name)
	}
	logger.Info(ctx, "Symbol names refreshed", "codes", len(codes), "failed", len(errs))
	return errors.Join(errs...)
}

func (l *Lookup) store(code, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[code] = entry{name: name, at: l.now()}
}

func (l *Lookup) resolve(ctx context.Context, code string) (string, error) {
	if l.broker != nil {
		q, err := l.broker.Quote(ctx, code, types.VenueKRX)
		if err == nil && strings.TrimSpace(q.StockName) != "" {
			return strings.TrimSpace(q.StockName), nil
		}
	}
	if l.pageURL == "" {
		return "", types.ErrNotFound
	}
	return l.scrape(ctx, code)
}

// scrape fetches the quote page with colly and reads the name with goquery.
func (l *Lookup) scrape(ctx context.Context, code string) (string, error) {
	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.DetectCharset = true
	c.SetRequestTimeout(l.timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
	})

	var (
		name    string
		scrapeE error
	)
	c.OnResponse(func(r *colly.Response) {
		name, scrapeE = ParseName(bytes.NewReader(r.Body), l.selector)
	})
	c.OnError(func(r *colly.Response, err error) {
		scrapeE = err
	})

	u := fmt.Sprintf(l.pageURL, code)
	if err := c.Visit(u); err != nil && scrapeE == nil {
		scrapeE = err
	}
	c.Wait()
	if scrapeE != nil {
		return "", fmt.Errorf("scrape %s: %w", u, scrapeE)
	}
	logger.Debug(ctx, "Symbol name scraped", "stock_code", code, "name", name)
	return name, nil
}

// ParseName returns the trimmed text of the first element matching
// selector.
func ParseName(r io.Reader, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(doc.Find(selector).First().Text())
	if name == "" {
		return "", types.ErrNotFound
	}
	return name, nil
}
