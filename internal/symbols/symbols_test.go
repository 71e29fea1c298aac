package symbols

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/store"
	"trend-trader/internal/types"
)

type stubQuotes struct {
	names map[string]string
	calls int
}

func (s *stubQuotes) Quote(_ context.Context, code string, venue types.Venue) (types.Quote, error) {
	s.calls++
	name, ok := s.names[code]
	if !ok {
		return types.Quote{}, errors.New("unknown")
	}
	return types.Quote{StockCode: code, StockName: name, Venue: venue, Last: 1}, nil
}

func quotePage(t *testing.T, names map[string]string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		name, ok := names[r.URL.Query().Get("code")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div class="wrap_company"><h2><a href="#">` + name + `</a></h2></div></body></html>`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNamePrefersWatchlist(t *testing.T) {
	wl := store.NewStaticWatchlist(store.WatchItem{Ticker: "005930", Name: "삼성전자", TargetPrice: 1})
	q := &stubQuotes{names: map[string]string{"005930": "other"}}
	l := New(wl, q)

	assert.Equal(t, "삼성전자", l.Name(context.Background(), "005930"))
	assert.Zero(t, q.calls)
}

func TestNameFromBrokerThenCached(t *testing.T) {
	q := &stubQuotes{names: map[string]string{"000660": "SK하이닉스"}}
	clk := time.Date(2025, 12, 16, 9, 0, 0, 0, time.UTC)
	l := New(nil, q, WithTTL(time.Hour), WithClock(func() time.Time { return clk }))

	ctx := context.Background()
	assert.Equal(t, "SK하이닉스", l.Name(ctx, "000660"))
	assert.Equal(t, "SK하이닉스", l.Name(ctx, "000660"))
	assert.Equal(t, 1, q.calls)

	clk = clk.Add(2 * time.Hour)
	delete(q.names, "000660")
	assert.Equal(t, "SK하이닉스", l.Name(ctx, "000660"), "stale entry kept when sources fail")
	assert.Equal(t, 2, q.calls)
}

func TestNameScrapesQuotePage(t *testing.T) {
	srv, hits := quotePage(t, map[string]string{"035420": "NAVER"})
	l := New(nil, &stubQuotes{}, WithQuotePage(srv.URL+"/item?code=%s", "div.wrap_company h2 a"))

	ctx := context.Background()
	assert.Equal(t, "NAVER", l.Name(ctx, "035420"))
	assert.Equal(t, "999999", l.Name(ctx, "999999"), "unknown code falls back to itself")
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestRefreshReResolves(t *testing.T) {
	srv, hits := quotePage(t, map[string]string{"035420": "NAVER", "005930": "삼성전자"})
	wl := store.NewStaticWatchlist(store.WatchItem{Ticker: "005930", TargetPrice: 1})
	l := New(wl, nil, WithQuotePage(srv.URL+"/item?code=%s", "div.wrap_company h2 a"))

	ctx := context.Background()
	require.Equal(t, "NAVER", l.Name(ctx, "035420"))
	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	assert.Equal(t, "삼성전자", l.Name(ctx, "005930"))
	assert.Equal(t, int32(3), atomic.LoadInt32(hits), "refreshed entries served from cache")
}

func TestParseName(t *testing.T) {
	name, err := ParseName(strings.NewReader(`<div class="n"> 카카오 </div><div class="n">x</div>`), "div.n")
	require.NoError(t, err)
	assert.Equal(t, "카카오", name)

	_, err = ParseName(strings.NewReader(`<p>nothing</p>`), "div.n")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
