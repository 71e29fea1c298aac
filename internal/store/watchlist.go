package store

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// WatchItem is one instrument the engine may enter.
type WatchItem struct {
	Ticker      string  `yaml:"ticker" json:"ticker"`
	Name        string  `yaml:"name" json:"name"`
	TargetPrice int64   `yaml:"target_price" json:"target_price"`
	StopLossPct float64 `yaml:"stop_loss_pct,omitempty" json:"stop_loss_pct,omitempty"`
	MaxUnits    float64 `yaml:"max_units,omitempty" json:"max_units,omitempty"`
	AddedDate   string  `yaml:"added_date,omitempty" json:"added_date,omitempty"`
}

type watchlistFile struct {
	Items []WatchItem `yaml:"items"`
}

// Watchlist holds the watch items loaded from a YAML file. Reads are safe
// from any goroutine; ReloadIfChanged is called from the engine loop.
type Watchlist struct {
	path    string
	mu      sync.RWMutex
	items   map[string]WatchItem
	modTime time.Time
}

// WatchlistChange describes what a reload added and removed.
type WatchlistChange struct {
	Added   []string
	Removed []string
}

func (c WatchlistChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

func NewWatchlist(path string) *Watchlist {
	return &Watchlist{path: path, items: map[string]WatchItem{}}
}

// NewStaticWatchlist builds an in-memory watchlist that never reloads.
func NewStaticWatchlist(items ...WatchItem) *Watchlist {
	w := &Watchlist{items: map[string]WatchItem{}}
	for _, it := range items {
		w.items[it.Ticker] = normalizeItem(it)
	}
	return w
}

func normalizeItem(it WatchItem) WatchItem {
	if it.MaxUnits <= 0 {
		it.MaxUnits = 1
	}
	return it
}

// Load reads the file unconditionally.
func (w *Watchlist) Load() (WatchlistChange, error) {
	if w.path == "" {
		return WatchlistChange{}, nil
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return WatchlistChange{}, err
	}
	return w.load(info.ModTime())
}

// ReloadIfChanged re-reads the file only when its modification time moved.
func (w *Watchlist) ReloadIfChanged() (WatchlistChange, error) {
	if w.path == "" {
		return WatchlistChange{}, nil
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return WatchlistChange{}, err
	}
	w.mu.RLock()
	same := info.ModTime().Equal(w.modTime)
	w.mu.RUnlock()
	if same {
		return WatchlistChange{}, nil
	}
	return w.load(info.ModTime())
}

func (w *Watchlist) load(modTime time.Time) (WatchlistChange, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return WatchlistChange{}, err
	}
	var f watchlistFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return WatchlistChange{}, fmt.Errorf("parse watchlist %s: %w", w.path, err)
	}

	next := make(map[string]WatchItem, len(f.Items))
	for _, it := range f.Items {
		if it.Ticker == "" {
			return WatchlistChange{}, fmt.Errorf("watchlist %s: item without ticker", w.path)
		}
		if it.TargetPrice <= 0 {
			return WatchlistChange{}, fmt.Errorf("watchlist %s: %s has no target_price", w.path, it.Ticker)
		}
		next[it.Ticker] = normalizeItem(it)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var change WatchlistChange
	for code := range next {
		if _, ok := w.items[code]; !ok {
			change.Added = append(change.Added, code)
		}
	}
	for code := range w.items {
		if _, ok := next[code]; !ok {
			change.Removed = append(change.Removed, code)
		}
	}
	sort.Strings(change.Added)
	sort.Strings(change.Removed)

	w.items = next
	w.modTime = modTime
	return change, nil
}

// Items returns the watch items sorted by ticker.
func (w *Watchlist) Items() []WatchItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]WatchItem, 0, len(w.items))
	for _, it := range w.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (w *Watchlist) Get(code string) (WatchItem, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	it, ok := w.items[code]
	return it, ok
}

func (w *Watchlist) Codes() []string {
	items := w.Items()
	codes := make([]string, len(items))
	for i, it := range items {
		codes[i] = it.Ticker
	}
	return codes
}

// StopLossPct returns the item's custom stop or the fallback.
func (w *Watchlist) StopLossPct(code string, fallback float64) float64 {
	if it, ok := w.Get(code); ok && it.StopLossPct > 0 {
		return it.StopLossPct
	}
	return fallback
}
