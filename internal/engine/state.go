package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"trend-trader/internal/types"
)

type TriggerStatus string

const (
	StatusNotTriggered TriggerStatus = "NOT_TRIGGERED"
	StatusPending      TriggerStatus = "PENDING"
	StatusFilled       TriggerStatus = "FILLED"
	StatusVIPending    TriggerStatus = "VI_PENDING"
	StatusRejected     TriggerStatus = "REJECTED"
	StatusCancelled    TriggerStatus = "CANCELLED"
	StatusPriceFailed  TriggerStatus = "PRICE_FAILED"
)

var transitions = map[TriggerStatus][]TriggerStatus{
	StatusNotTriggered: {StatusPending},
	StatusPending:      {StatusFilled, StatusVIPending, StatusRejected, StatusPriceFailed},
	StatusVIPending:    {StatusFilled, StatusCancelled, StatusPending},
	StatusRejected:     {StatusPending},
	StatusCancelled:    {StatusPending},
	StatusPriceFailed:  {StatusPending},
}

func canTransition(from, to TriggerStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal statuses may be retried, but only in a later session.
func (s TriggerStatus) retryable() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusPriceFailed
}

const (
	EntryBreakout = "breakout"
	EntryGapUp    = "gap_up"
	EntryPyramid  = "pyramid"
)

// Trigger is today's entry attempt for one symbol. While an order is
// outstanding it also carries the order and its VI deadline.
type Trigger struct {
	StockCode  string            `json:"stock_code"`
	EntryType  string            `json:"entry_type"`
	Session    string            `json:"session"`
	Status     TriggerStatus     `json:"status"`
	At         time.Time         `json:"at"`
	Reason     string            `json:"reason,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Qty        int64             `json:"qty,omitempty"`
	LimitPrice int64             `json:"limit_price,omitempty"`
	Venue      types.Venue       `json:"venue,omitempty"`
	Channel    types.CreditClass `json:"channel,omitempty"`
	PlacedAt   time.Time         `json:"placed_at,omitempty"`
	Deadline   time.Time         `json:"deadline,omitempty"`
	Rerouted   bool              `json:"rerouted,omitempty"`
}

func (t *Trigger) moveTo(to TriggerStatus, at time.Time) error {
	from := t.Status
	if from == "" {
		from = StatusNotTriggered
	}
	if !canTransition(from, to) {
		return fmt.Errorf("trigger %s: illegal transition %s -> %s", t.StockCode, from, to)
	}
	t.Status = to
	t.At = at
	return nil
}

// VIOrder is the view of an order suspected halted by a volatility
// interruption.
type VIOrder struct {
	OrderID     string      `json:"order_id"`
	StockCode   string      `json:"stock_code"`
	TargetPrice int64       `json:"target_price"`
	Venue       types.Venue `json:"venue"`
	Deadline    time.Time   `json:"deadline"`
}

// DayState is the engine's transient state for one trading day. The engine
// loop is its only writer. SoldSinceAdded outlives the day: it is cleared
// per symbol when the symbol leaves the watchlist.
type DayState struct {
	Date           string               `json:"date"`
	Triggers       map[string]*Trigger  `json:"triggers"`
	SoldToday      map[string]bool      `json:"sold_today"`
	SoldSinceAdded map[string]bool      `json:"sold_since_added"`
	ExitPending    map[string]time.Time `json:"exit_pending"`
	CloseDone      bool                 `json:"close_done"`
	Reloaded       bool                 `json:"reloaded"`
}

func NewDayState(date string) *DayState {
	return &DayState{
		Date:           date,
		Triggers:       map[string]*Trigger{},
		SoldToday:      map[string]bool{},
		SoldSinceAdded: map[string]bool{},
		ExitPending:    map[string]time.Time{},
	}
}

// Reset starts a new trading day, keeping only SoldSinceAdded.
func (d *DayState) Reset(date string) *DayState {
	next := NewDayState(date)
	for code := range d.SoldSinceAdded {
		next.SoldSinceAdded[code] = true
	}
	return next
}

// MarkSold records an exit for code.
func (d *DayState) MarkSold(code string) {
	d.SoldToday[code] = true
	d.SoldSinceAdded[code] = true
}

// Forget clears watchlist-scoped state for a symbol that was removed.
func (d *DayState) Forget(code string) {
	delete(d.SoldSinceAdded, code)
}

// TriggerAllowed applies the one-trigger-per-session rule.
func (d *DayState) TriggerAllowed(code, session string) bool {
	t, ok := d.Triggers[code]
	if !ok || t.Status == StatusNotTriggered {
		return true
	}
	return t.Status.retryable() && t.Session != session
}

// ExitInFlight reports whether an exit for code was submitted within grace.
func (d *DayState) ExitInFlight(code string, now time.Time, grace time.Duration) bool {
	at, ok := d.ExitPending[code]
	return ok && now.Sub(at) < grace
}

// VIOrders lists orders currently held in VI_PENDING.
func (d *DayState) VIOrders() []VIOrder {
	var out []VIOrder
	for _, t := range d.Triggers {
		if t.Status == StatusVIPending {
			out = append(out, VIOrder{OrderID: t.OrderID, StockCode: t.StockCode, TargetPrice: t.LimitPrice, Venue: t.Venue, Deadline: t.Deadline})
		}
	}
	return out
}

func (d *DayState) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func UnmarshalDayState(b []byte) (*DayState, error) {
	d := &DayState{}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, err
	}
	fresh := NewDayState(d.Date)
	if d.Triggers == nil {
		d.Triggers = fresh.Triggers
	}
	if d.SoldToday == nil {
		d.SoldToday = fresh.SoldToday
	}
	if d.SoldSinceAdded == nil {
		d.SoldSinceAdded = fresh.SoldSinceAdded
	}
	if d.ExitPending == nil {
		d.ExitPending = fresh.ExitPending
	}
	return d, nil
}

// Clone deep-copies the state for readers outside the engine lock.
func (d *DayState) Clone() *DayState {
	c := &DayState{
		Date:           d.Date,
		Triggers:       make(map[string]*Trigger, len(d.Triggers)),
		SoldToday:      make(map[string]bool, len(d.SoldToday)),
		SoldSinceAdded: make(map[string]bool, len(d.SoldSinceAdded)),
		ExitPending:    make(map[string]time.Time, len(d.ExitPending)),
		CloseDone:      d.CloseDone,
		Reloaded:       d.Reloaded,
	}
	for k, v := range d.Triggers {
		t := *v
		c.Triggers[k] = &t
	}
	for k, v := range d.SoldToday {
		c.SoldToday[k] = v
	}
	for k, v := range d.SoldSinceAdded {
		c.SoldSinceAdded[k] = v
	}
	for k, v := range d.ExitPending {
		c.ExitPending[k] = v
	}
	return c
}
