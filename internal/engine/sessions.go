package engine

import (
	"strings"
	"time"

	"trend-trader/internal/types"
)

// Permission is a bit set of what a session allows.
type Permission uint8

const (
	AllowEntry Permission = 1 << iota
	AllowGapUp
	SuppressStop
	RunClose
	ReloadWatchlist
)

// Session is one named clock window of the trading day, [Start, End).
type Session struct {
	Name    string
	Start   Clock
	End     Clock
	Actions Permission
}

// Clock is minutes since midnight, local exchange time.
type Clock int

func At(hour, minute int) Clock { return Clock(hour*60 + minute) }

func clockOf(t time.Time) Clock { return At(t.Hour(), t.Minute()) }

const (
	NXTMorning      = "nxt_morning"
	PremarketReload = "premarket_reload"
	KRXOpen         = "krx_open"
	KRXMorning      = "krx_morning"
	Afternoon       = "afternoon"
	ClosingAuction  = "closing_auction"
	NXTEvening      = "nxt_evening"
	NXTClose        = "nxt_close"
)

// DefaultSessions is the KRX/NXT trading day.
var DefaultSessions = []Session{
	{NXTMorning, At(8, 0), At(8, 5), AllowEntry},
	{PremarketReload, At(8, 55), At(8, 56), ReloadWatchlist},
	{KRXOpen, At(9, 0), At(9, 1), AllowGapUp},
	{KRXMorning, At(9, 0), At(9, 10), AllowEntry},
	{Afternoon, At(15, 15), At(15, 20), AllowEntry},
	{ClosingAuction, At(15, 20), At(15, 30), SuppressStop},
	{NXTEvening, At(19, 30), At(20, 0), AllowEntry},
	{NXTClose, At(19, 55), At(20, 0), RunClose},
}

var (
	marketOpen  = At(8, 0)
	marketClose = At(20, 0)
)

// Window is the set of sessions active at one instant.
type Window struct {
	At       time.Time
	Sessions []Session
	Trading  bool
}

// SessionsAt evaluates the table against wall-clock time t, which must
// already be in exchange local time. Weekends have no sessions.
func SessionsAt(table []Session, t time.Time) Window {
	w := Window{At: t}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return w
	}
	c := clockOf(t)
	w.Trading = c >= marketOpen && c < marketClose
	for _, s := range table {
		if c >= s.Start && c < s.End {
			w.Sessions = append(w.Sessions, s)
		}
	}
	return w
}

// Allows reports whether any active session grants p.
func (w Window) Allows(p Permission) bool {
	_, ok := w.granting(p)
	return ok
}

// SessionFor names the session granting p, or "" when none does.
func (w Window) SessionFor(p Permission) string {
	s, _ := w.granting(p)
	return s.Name
}

func (w Window) granting(p Permission) (Session, bool) {
	for _, s := range w.Sessions {
		if s.Actions&p != 0 {
			return s, true
		}
	}
	return Session{}, false
}

func (w Window) In(name string) bool {
	for _, s := range w.Sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// StopsAllowed is false during the KRX closing auction unless the NXT
// evening session is running.
func (w Window) StopsAllowed() bool {
	if !w.Trading {
		return false
	}
	return !w.Allows(SuppressStop) || w.In(NXTEvening)
}

func (w Window) String() string {
	names := make([]string, len(w.Sessions))
	for i, s := range w.Sessions {
		names[i] = s.Name
	}
	return strings.Join(names, ",")
}

// VenueAt picks NXT while only NXT trades (08:00–09:00, 15:40–20:00) and
// KRX otherwise.
func VenueAt(t time.Time) types.Venue {
	c := clockOf(t)
	if (c >= At(8, 0) && c < At(9, 0)) || (c >= At(15, 40) && c < At(20, 0)) {
		return types.VenueNXT
	}
	return types.VenueKRX
}
