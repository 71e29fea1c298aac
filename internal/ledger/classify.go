package ledger

import (
	"strings"

	"trend-trader/internal/types"
)

// Classify maps the broker's trade type name to a ledger kind. A name with
// "매수" (buy) is a buy. A name with "매도" (sell) or "상환" (loan
// repayment) and no "매수" is a sell; repayments reduce lots exactly like
// sells.
func Classify(tradeType string) types.TradeKind {
	switch {
	case strings.Contains(tradeType, "매수"):
		return types.KindBuy
	case strings.Contains(tradeType, "상환"):
		return types.KindRepay
	case strings.Contains(tradeType, "매도"):
		return types.KindSell
	default:
		return types.KindUnknown
	}
}
