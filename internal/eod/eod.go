package eod

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trend-trader/internal/tradelog"
)

// summaryAfter is the KST wall time after which the day is summarized.
const (
	summaryHour   = 15
	summaryMinute = 40
)

type aggRow struct {
	Symbol    string
	Name      string
	BuyQty    int64
	BuyValue  int64
	SellQty   int64
	SellValue int64
}

func (r *aggRow) buyAvg() decimal.Decimal {
	if r.BuyQty == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.BuyValue).Div(decimal.NewFromInt(r.BuyQty))
}

func (r *aggRow) sellAvg() decimal.Decimal {
	if r.SellQty == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.SellValue).Div(decimal.NewFromInt(r.SellQty))
}

// realized is matched quantity times the spread of the day's averages.
func (r *aggRow) realized() decimal.Decimal {
	matched := min(r.BuyQty, r.SellQty)
	return decimal.NewFromInt(matched).Mul(r.sellAvg().Sub(r.buyAvg()))
}

type eodSummarizer struct {
	loc *time.Location
	now func() time.Time
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func (s *eodSummarizer) today() time.Time { return s.now().In(s.loc) }

func eodCSVPath(t time.Time, loc *time.Location) string {
	return filepath.Join(logDir(), "eod", t.In(loc).Format("2006-01-02")+".csv")
}

// SummarizeDay aggregates the day's journaled orders per symbol into a
// CSV. Rejected submissions are left out. No trades yields an empty path.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	entries, err := tradelog.ReadDay(t)
	if err != nil {
		return "", err
	}

	aggs := map[string]*aggRow{}
	for _, e := range entries {
		if e.Rejected || e.Qty <= 0 {
			continue
		}
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		if e.Name != "" {
			row.Name = e.Name
		}
		switch e.Side {
		case "BUY":
			row.BuyQty += e.Qty
			row.BuyValue += e.Qty * e.Price
		case "SELL":
			row.SellQty += e.Qty
			row.SellValue += e.Qty * e.Price
		}
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := eodCSVPath(t, s.loc)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "name", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalBuy, totalSell int64
	totalPnL := decimal.Zero
	for _, k := range keys {
		r := aggs[k]
		pnl := r.realized()
		rec := []string{
			r.Symbol,
			r.Name,
			strconv.FormatInt(r.BuyQty, 10),
			r.buyAvg().StringFixed(2),
			strconv.FormatInt(r.SellQty, 10),
			r.sellAvg().StringFixed(2),
			pnl.StringFixed(0),
			strconv.FormatInt(r.BuyValue, 10),
			strconv.FormatInt(r.SellValue, 10),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy += r.BuyValue
		totalSell += r.SellValue
		totalPnL = totalPnL.Add(pnl)
	}
	if err := w.Write([]string{"TOTAL", "", "", "", "", "", totalPnL.StringFixed(0), strconv.FormatInt(totalBuy, 10), strconv.FormatInt(totalSell, 10)}); err != nil {
		return "", err
	}
	w.Flush()
	return outPath, w.Error()
}

func (s *eodSummarizer) SummarizeToday() (string, error) { return s.SummarizeDay(s.today()) }

// ShouldRunNow is true on a weekday after the summary time when the CSV
// does not exist yet.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.today()
	outPath := eodCSVPath(now, s.loc)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, outPath
	}
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), summaryHour, summaryMinute, 0, 0, s.loc)
	if now.Before(cutoff) {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
