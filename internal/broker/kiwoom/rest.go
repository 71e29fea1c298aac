package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"trend-trader/internal/ledger"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

type quoteResponse struct {
	StkCd    string `json:"stk_cd"`
	StkNm    string `json:"stk_nm"`
	CurPrc   string `json:"cur_prc"`
	OpenPric string `json:"open_pric"`
	HighPric string `json:"high_pric"`
	LowPric  string `json:"low_pric"`
	TrdeQty  string `json:"trde_qty"`
}

// Quote reads ka10001. A zero last price means the venue is not trading the
// stock right now.
func (k *Kiwoom) Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error) {
	p, err := k.query(ctx, pathStock, "ka10001", map[string]string{"stk_cd": venueCode(stockCode, venue)}, "")
	if err != nil {
		return types.Quote{}, err
	}
	var r quoteResponse
	if err := decode(p.body, &r); err != nil {
		return types.Quote{}, fmt.Errorf("ka10001: %w", err)
	}
	q := types.Quote{
		StockCode: stockCode,
		StockName: r.StkNm,
		Venue:     venue,
		Last:      price(r.CurPrc),
		Open:      price(r.OpenPric),
		High:      price(r.HighPric),
		Low:       price(r.LowPric),
		Volume:    toInt(r.TrdeQty),
		UpdatedAt: k.now(),
	}
	q.Tradable = q.Last > 0
	return q, nil
}

type orderResponse struct {
	envelope
	OrdNo string `json:"ord_no"`
}

// PlaceOrder submits a limit order once. Cash orders use kt10000/kt10001,
// credit orders kt10006/kt10007. A credit sell without a loan date repays
// across all loans of the stock.
func (k *Kiwoom) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if req.Qty <= 0 || req.Price <= 0 {
		return types.OrderResp{}, fmt.Errorf("invalid order %s qty=%d price=%d: %w", req.StockCode, req.Qty, req.Price, types.ErrOrderRejected)
	}
	venue := req.Venue
	if venue == "" {
		venue = types.VenueKRX
	}
	body := map[string]string{
		"dmst_stex_tp": string(venue),
		"stk_cd":       req.StockCode,
		"ord_qty":      strconv.FormatInt(req.Qty, 10),
		"ord_uv":       strconv.FormatInt(req.Price, 10),
		"trde_tp":      "0",
		"cond_uv":      "",
	}

	path, apiID := pathOrder, "kt10000"
	switch {
	case req.Channel == types.CreditMargin && req.Side == types.SideBuy:
		path, apiID = pathCredit, "kt10006"
	case req.Channel == types.CreditMargin:
		path, apiID = pathCredit, "kt10007"
		loan := req.LoanDate
		if loan == "" {
			loan = types.LoanDateAnyCredit
		}
		body["crd_deal_tp"] = "33"
		body["crd_loan_dt"] = compactDate(loan)
	case req.Side == types.SideSell:
		apiID = "kt10001"
	}

	p, err := k.send(ctx, path, apiID, body, "")
	if err != nil {
		var be *types.BrokerError
		if errors.As(err, &be) && be.Kind == nil {
			be.Kind = types.ErrOrderRejected
		}
		return types.OrderResp{}, err
	}
	var r orderResponse
	if err := decode(p.body, &r); err != nil {
		return types.OrderResp{}, fmt.Errorf("%s: %w", apiID, err)
	}
	return types.OrderResp{OrderID: r.OrdNo, Status: "ACCEPTED", Message: r.ReturnMsg}, nil
}

// CancelOrder cancels the whole unfilled remainder (kt10003).
func (k *Kiwoom) CancelOrder(ctx context.Context, orderID, stockCode string, venue types.Venue) error {
	if venue == "" {
		venue = types.VenueKRX
	}
	_, err := k.send(ctx, pathOrder, "kt10003", map[string]string{
		"dmst_stex_tp": string(venue),
		"orig_ord_no":  orderID,
		"stk_cd":       stockCode,
		"cncl_qty":     "0",
	}, "")
	return err
}

type pendingResponse struct {
	Oso []struct {
		OrdNo   string `json:"ord_no"`
		StkCd   string `json:"stk_cd"`
		OrdQty  string `json:"ord_qty"`
		OsoQty  string `json:"oso_qty"`
		OrdPric string `json:"ord_pric"`
		IoTpNm  string `json:"io_tp_nm"`
		StexTp  string `json:"stex_tp_txt"`
	} `json:"oso"`
}

// PendingOrders lists open orders (ka10075).
func (k *Kiwoom) PendingOrders(ctx context.Context) ([]types.PendingOrder, error) {
	var out []types.PendingOrder
	err := k.paginate(ctx, pathAccount, "ka10075", map[string]string{
		"all_stk_tp": "0",
		"trde_tp":    "0",
		"stk_cd":     "",
		"stex_tp":    "0",
	}, func(b []byte) error {
		var r pendingResponse
		if err := decode(b, &r); err != nil {
			return err
		}
		for _, o := range r.Oso {
			remaining := toInt(o.OsoQty)
			if remaining <= 0 {
				continue
			}
			side := types.SideBuy
			if ledger.Classify(o.IoTpNm).IsSell() {
				side = types.SideSell
			}
			venue := types.VenueKRX
			if o.StexTp == string(types.VenueNXT) {
				venue = types.VenueNXT
			}
			out = append(out, types.PendingOrder{
				OrderID:   o.OrdNo,
				StockCode: stockCode(o.StkCd),
				Side:      side,
				Qty:       toInt(o.OrdQty),
				Remaining: remaining,
				Price:     price(o.OrdPric),
				Venue:     venue,
			})
		}
		return nil
	})
	return out, err
}

type accountResponse struct {
	D2Entra         string `json:"d2_entra"`
	PrsmDpstAsetAmt string `json:"prsm_dpst_aset_amt"`
	AsetEvltAmt     string `json:"aset_evlt_amt"`
	TotLoanAmt      string `json:"tot_loan_amt"`
	Holdings        []struct {
		StkCd    string `json:"stk_cd"`
		StkNm    string `json:"stk_nm"`
		RmndQty  string `json:"rmnd_qty"`
		AvgPrc   string `json:"avg_prc"`
		CurPrc   string `json:"cur_prc"`
		EvltAmt  string `json:"evlt_amt"`
		PlAmt    string `json:"pl_amt"`
		PlRt     string `json:"pl_rt"`
		LoanDt   string `json:"loan_dt"`
		PurAmt   string `json:"pur_amt"`
		TdyBuyq  string `json:"tdy_buyq"`
		TdySellq string `json:"tdy_sellq"`
	} `json:"stk_acnt_evlt_prst"`
}

func accountBody() map[string]string {
	return map[string]string{"qry_tp": "0", "dmst_stex_tp": "KRX"}
}

// Holdings reads the account evaluation (kt00004), one row per credit
// loan. A row with a loan date is a credit holding.
func (k *Kiwoom) Holdings(ctx context.Context) ([]types.Holding, error) {
	today := k.now().In(k.loc).Format(types.DateLayout)
	var out []types.Holding
	err := k.paginate(ctx, pathAccount, "kt00004", accountBody(), func(b []byte) error {
		var r accountResponse
		if err := decode(b, &r); err != nil {
			return err
		}
		for _, h := range r.Holdings {
			qty := toInt(h.RmndQty)
			if qty <= 0 {
				continue
			}
			class := types.CreditCash
			loan := ""
			if d := compactDate(h.LoanDt); d != "" && toInt(d) > 0 {
				class, loan = types.CreditMargin, d
			}
			out = append(out, types.Holding{
				SnapshotDate:   today,
				StockCode:      stockCode(h.StkCd),
				StockName:      h.StkNm,
				Quantity:       qty,
				AvgPrice:       price(h.AvgPrc),
				CurrentPrice:   price(h.CurPrc),
				EvalAmount:     toInt(h.EvltAmt),
				PnLAmount:      toInt(h.PlAmt),
				PnLRate:        toFloat(h.PlRt),
				LoanDate:       loan,
				CreditClass:    class,
				PurchaseAmount: toInt(h.PurAmt),
				TodayBuyQty:    toInt(h.TdyBuyq),
				TodaySellQty:   toInt(h.TdySellq),
			})
		}
		return nil
	})
	return out, err
}

// Balance reads the first page of kt00004: D+2 cash, estimated net
// deposit assets and the evaluated stock assets.
func (k *Kiwoom) Balance(ctx context.Context) (types.AccountBalance, error) {
	p, err := k.query(ctx, pathAccount, "kt00004", accountBody(), "")
	if err != nil {
		return types.AccountBalance{}, err
	}
	var r accountResponse
	if err := decode(p.body, &r); err != nil {
		return types.AccountBalance{}, fmt.Errorf("kt00004: %w", err)
	}
	return types.AccountBalance{
		Available:   toInt(r.D2Entra),
		NetAssets:   toInt(r.PrsmDpstAsetAmt),
		StockAssets: toInt(r.AsetEvltAmt),
		LoanAmount:  toInt(r.TotLoanAmt),
	}, nil
}

type historyResponse struct {
	Rows []struct {
		OrdNo   string `json:"ord_no"`
		StkCd   string `json:"stk_cd"`
		StkNm   string `json:"stk_nm"`
		IoTpNm  string `json:"io_tp_nm"`
		OrdTm   string `json:"ord_tm"`
		CntrQty string `json:"cntr_qty"`
		CntrUv  string `json:"cntr_uv"`
		LoanDt  string `json:"loan_dt"`
	} `json:"acnt_ord_cntr_prps_dtl"`
}

// TradeHistory queries kt00007 once per weekday in [from, to]. Only rows
// with an executed quantity become trade events.
func (k *Kiwoom) TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error) {
	start, err := time.ParseInLocation(types.DateLayout, from, k.loc)
	if err != nil {
		return nil, fmt.Errorf("trade history from %q: %w", from, err)
	}
	end, err := time.ParseInLocation(types.DateLayout, to, k.loc)
	if err != nil {
		return nil, fmt.Errorf("trade history to %q: %w", to, err)
	}

	var out []types.TradeEvent
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		day := d.Format(types.DateLayout)
		body := map[string]string{
			"ord_dt":       compactDate(day),
			"qry_tp":       "4",
			"stk_bond_tp":  "0",
			"sell_tp":      "0",
			"stk_cd":       "",
			"fr_ord_no":    "",
			"dmst_stex_tp": "%",
		}
		err := k.paginate(ctx, pathAccount, "kt00007", body, func(b []byte) error {
			var r historyResponse
			if err := decode(b, &r); err != nil {
				return err
			}
			for _, row := range r.Rows {
				qty := toInt(row.CntrQty)
				if qty <= 0 {
					continue
				}
				class, loan := types.CreditCash, ""
				if d := compactDate(row.LoanDt); d != "" && toInt(d) > 0 {
					class, loan = types.CreditMargin, d
				}
				out = append(out, types.TradeEvent{
					OrderNo:     row.OrdNo,
					StockCode:   stockCode(row.StkCd),
					StockName:   row.StkNm,
					TradeType:   row.IoTpNm,
					Quantity:    qty,
					Price:       price(row.CntrUv),
					TradeDate:   day,
					Time:        row.OrdTm,
					CreditClass: class,
					LoanDate:    loan,
				})
			}
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("trade history %s: %w", day, err)
		}
	}
	logger.Debug(ctx, "Trade history fetched", "from", from, "to", to, "events", len(out))
	return out, nil
}

type chartResponse struct {
	Bars []struct {
		Dt      string `json:"dt"`
		CurPrc  string `json:"cur_prc"`
		TrdeQty string `json:"trde_qty"`
	} `json:"stk_dt_pole_chart_qry"`
}

// DailyBars reads the daily chart (ka10081), oldest first.
func (k *Kiwoom) DailyBars(ctx context.Context, stockCode string, n int) ([]types.DailyBar, error) {
	p, err := k.query(ctx, pathChart, "ka10081", map[string]string{
		"stk_cd":       stockCode,
		"base_dt":      k.now().In(k.loc).Format("20060102"),
		"upd_stkpc_tp": "1",
	}, "")
	if err != nil {
		return nil, err
	}
	var r chartResponse
	if err := decode(p.body, &r); err != nil {
		return nil, fmt.Errorf("ka10081: %w", err)
	}
	bars := make([]types.DailyBar, 0, len(r.Bars))
	for _, b := range r.Bars {
		bars = append(bars, types.DailyBar{Date: isoDate(b.Dt), Close: price(b.CurPrc), Volume: toInt(b.TrdeQty)})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}
