package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoItems = `
items:
  - ticker: "005930"
    name: Samsung Electronics
    target_price: 75000
  - ticker: "000660"
    name: SK hynix
    target_price: 180000
    stop_loss_pct: 5
    max_units: 2
`

func TestWatchlistLoad(t *testing.T) {
	p := writeFile(t, "watchlist.yaml", twoItems)
	w := NewWatchlist(p)

	change, err := w.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"000660", "005930"}, change.Added)
	assert.Empty(t, change.Removed)

	it, ok := w.Get("005930")
	require.True(t, ok)
	assert.Equal(t, int64(75000), it.TargetPrice)
	assert.Equal(t, 1.0, it.MaxUnits)

	assert.Equal(t, 5.0, w.StopLossPct("000660", 7))
	assert.Equal(t, 7.0, w.StopLossPct("005930", 7))
	assert.Equal(t, []string{"000660", "005930"}, w.Codes())
}

func TestWatchlistReloadIfChanged(t *testing.T) {
	p := writeFile(t, "watchlist.yaml", twoItems)
	w := NewWatchlist(p)
	_, err := w.Load()
	require.NoError(t, err)

	change, err := w.ReloadIfChanged()
	require.NoError(t, err)
	assert.True(t, change.Empty())

	require.NoError(t, os.WriteFile(p, []byte(`
items:
  - ticker: "005930"
    target_price: 76000
  - ticker: "035420"
    target_price: 200000
`), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(p, later, later))

	change, err = w.ReloadIfChanged()
	require.NoError(t, err)
	assert.Equal(t, []string{"035420"}, change.Added)
	assert.Equal(t, []string{"000660"}, change.Removed)

	it, _ := w.Get("005930")
	assert.Equal(t, int64(76000), it.TargetPrice)
}

func TestWatchlistRejectsItemWithoutTarget(t *testing.T) {
	p := writeFile(t, "watchlist.yaml", "items:\n  - ticker: \"005930\"\n")
	_, err := NewWatchlist(p).Load()
	assert.Error(t, err)
}
