package risk

// tickBands is the KRX price step table: a price below bound moves in
// steps of tick.
var tickBands = []struct {
	bound int64
	tick  int64
}{
	{2_000, 1},
	{5_000, 5},
	{20_000, 10},
	{50_000, 50},
	{200_000, 100},
	{500_000, 500},
}

// TickSize returns the minimum price step for price.
func TickSize(price int64) int64 {
	for _, b := range tickBands {
		if price < b.bound {
			return b.tick
		}
	}
	return 1_000
}

// RoundToTick rounds price down onto the tick grid.
func RoundToTick(price int64) int64 {
	if price <= 0 {
		return 0
	}
	t := TickSize(price)
	return price / t * t
}

// AddTicks moves price n ticks up (or down for negative n), stepping
// through band boundaries one tick at a time.
func AddTicks(price int64, n int) int64 {
	p := RoundToTick(price)
	for i := 0; i < n; i++ {
		p += TickSize(p)
	}
	for i := 0; i > n && p > 1; i-- {
		p -= TickSize(p - 1)
	}
	return p
}
