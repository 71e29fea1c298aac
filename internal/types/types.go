package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and comparison format for trading dates.
// Dates in this layout sort lexicographically.
const DateLayout = "2006-01-02"

// LoanDateAnyCredit is the broker's generic repayment loan date. It matches
// any open credit lot of the same stock during reduction.
const LoanDateAnyCredit = "99991231"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CreditClass separates cash holdings from margin-financed ones.
type CreditClass string

const (
	CreditCash   CreditClass = "CASH"
	CreditMargin CreditClass = "CREDIT"
)

type Venue string

const (
	VenueKRX Venue = "KRX"
	VenueNXT Venue = "NXT"
)

// Other returns the alternate venue used when rerouting a halted order.
func (v Venue) Other() Venue {
	if v == VenueNXT {
		return VenueKRX
	}
	return VenueNXT
}

// TradeKind is the ledger classification of a broker trade type name.
type TradeKind int

const (
	KindUnknown TradeKind = iota
	KindBuy
	KindSell
	KindRepay
)

// IsSell reports whether the kind reduces a holding. Loan repayments do.
func (k TradeKind) IsSell() bool {
	return k == KindSell || k == KindRepay
}

// TradeEvent is one executed order line from the broker's trade history.
// It is never modified after it is recorded.
type TradeEvent struct {
	OrderNo     string      `json:"order_no"`
	StockCode   string      `json:"stock_code"`
	StockName   string      `json:"stock_name"`
	TradeType   string      `json:"trade_type"`
	Quantity    int64       `json:"quantity"`
	Price       int64       `json:"price"`
	TradeDate   string      `json:"trade_date"`
	Time        string      `json:"time"`
	CreditClass CreditClass `json:"credit_class"`
	LoanDate    string      `json:"loan_date,omitempty"`
}

// Lot is a batch of shares opened on one trading day for one
// (stock, credit class, loan date) key.
type Lot struct {
	StockCode     string          `json:"stock_code"`
	StockName     string          `json:"stock_name"`
	CreditClass   CreditClass     `json:"credit_class"`
	LoanDate      string          `json:"loan_date"`
	TradeDate     string          `json:"trade_date"`
	NetQuantity   int64           `json:"net_quantity"`
	AvgPrice      decimal.Decimal `json:"avg_purchase_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	IsClosed      bool            `json:"is_closed"`
	ClosedDate    string          `json:"closed_date,omitempty"`
	CurrentPrice  int64           `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	ReturnPct     decimal.Decimal `json:"return_pct"`
	HoldingDays   int             `json:"holding_days"`
}

// Holding is one row of the broker's account evaluation snapshot.
type Holding struct {
	SnapshotDate   string      `json:"snapshot_date"`
	StockCode      string      `json:"stock_code"`
	StockName      string      `json:"stock_name"`
	Quantity       int64       `json:"quantity"`
	AvgPrice       int64       `json:"avg_price"`
	CurrentPrice   int64       `json:"current_price"`
	EvalAmount     int64       `json:"eval_amount"`
	PnLAmount      int64       `json:"pnl_amount"`
	PnLRate        float64     `json:"pnl_rate"`
	LoanDate       string      `json:"loan_date,omitempty"`
	CreditClass    CreditClass `json:"credit_class"`
	PurchaseAmount int64       `json:"purchase_amount"`
	TodayBuyQty    int64       `json:"today_buy_qty"`
	TodaySellQty   int64       `json:"today_sell_qty"`
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

type PositionKey struct {
	StockCode   string
	CreditClass CreditClass
}

// Position aggregates everything held for one (stock, credit class). The
// today fields track only the quantity opened on the current trading day.
type Position struct {
	StockCode       string          `json:"stock_code"`
	StockName       string          `json:"stock_name"`
	CreditClass     CreditClass     `json:"credit_class"`
	Quantity        int64           `json:"quantity"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	StopLossPct     float64         `json:"stop_loss_pct"`
	TodayQty        int64           `json:"today_qty"`
	TodayEntryPrice decimal.Decimal `json:"today_entry_price"`
	Status          PositionStatus  `json:"status"`
	OpenedAt        time.Time       `json:"opened_at,omitempty"`
}

func (p Position) Key() PositionKey {
	return PositionKey{StockCode: p.StockCode, CreditClass: p.CreditClass}
}

// MarketValue values the position at the given price.
func (p Position) MarketValue(price int64) decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(decimal.NewFromInt(price))
}

// Quote is a point-in-time price for one instrument on one venue.
type Quote struct {
	StockCode string    `json:"stock_code"`
	StockName string    `json:"stock_name,omitempty"`
	Venue     Venue     `json:"venue"`
	Last      int64     `json:"last"`
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Volume    int64     `json:"volume"`
	Tradable  bool      `json:"tradable"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderReq struct {
	StockCode string
	Side      Side
	Channel   CreditClass
	Qty       int64
	Price     int64
	Venue     Venue
	LoanDate  string
	Tag       string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PendingOrder is an order the broker still reports as open.
type PendingOrder struct {
	OrderID   string
	StockCode string
	Side      Side
	Qty       int64
	Remaining int64
	Price     int64
	Venue     Venue
}

// Fill is a push notification that an order executed, fully or partly.
type Fill struct {
	OrderID   string    `json:"order_id"`
	StockCode string    `json:"stock_code"`
	StockName string    `json:"stock_name,omitempty"`
	Side      Side      `json:"side"`
	Qty       int64     `json:"qty"`
	Price     int64     `json:"price"`
	At        time.Time `json:"at"`
}

// AccountBalance is the account summary used for sizing and the
// leverage guard.
type AccountBalance struct {
	Available   int64 `json:"available"`
	NetAssets   int64 `json:"net_assets"`
	StockAssets int64 `json:"stock_assets"`
	LoanAmount  int64 `json:"loan_amount"`
}

// LeveragePct is stock assets over net assets, in percent.
func (b AccountBalance) LeveragePct() decimal.Decimal {
	if b.NetAssets <= 0 {
		return decimal.NewFromInt(999)
	}
	return decimal.NewFromInt(b.StockAssets).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(b.NetAssets))
}

// DailyBar is one daily candle, used for volume confirmation.
type DailyBar struct {
	Date   string `json:"date"`
	Close  int64  `json:"close"`
	Volume int64  `json:"volume"`
}

// PortfolioDaily is the derived per-day account aggregate.
type PortfolioDaily struct {
	Date          string          `json:"date"`
	NetAssets     int64           `json:"net_assets"`
	StockAssets   int64           `json:"stock_assets"`
	Cash          int64           `json:"cash"`
	LeveragePct   decimal.Decimal `json:"leverage_pct"`
	PositionCount int             `json:"position_count"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// TickResult summarizes one pass of the decision loop.
type TickResult struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Actions []Action  `json:"actions,omitempty"`
	Errors  int       `json:"errors"`
}

// Action records one order decision made during a tick.
type Action struct {
	StockCode string `json:"stock_code"`
	Kind      string `json:"kind"`
	Qty       int64  `json:"qty"`
	Price     int64  `json:"price"`
	OrderID   string `json:"order_id,omitempty"`
	Reason    string `json:"reason"`
}
