// Package ta holds the indicator math the engine needs: trailing average
// volume for pyramid confirmation.
package ta

import (
	"sort"

	"github.com/markcheno/go-talib"

	"trend-trader/internal/types"
)

// AverageVolume is the simple average volume of the n most recent bars
// dated before the given date. ok is false when fewer than n bars exist.
func AverageVolume(bars []types.DailyBar, before string, n int) (avg float64, ok bool) {
	if n <= 0 {
		return 0, false
	}
	prior := make([]types.DailyBar, 0, len(bars))
	for _, b := range bars {
		if b.Date < before {
			prior = append(prior, b)
		}
	}
	if len(prior) < n {
		return 0, false
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Date < prior[j].Date })

	vols := make([]float64, len(prior))
	for i, b := range prior {
		vols[i] = float64(b.Volume)
	}
	sma := talib.Sma(vols, n)
	return sma[len(sma)-1], true
}

// VolumeConfirmed reports whether today's volume is at least multiplier
// times the trailing n-day average. Missing history does not confirm.
func VolumeConfirmed(bars []types.DailyBar, today string, todayVolume int64, n int, multiplier float64) (bool, float64) {
	avg, ok := AverageVolume(bars, today, n)
	if !ok || avg <= 0 {
		return false, avg
	}
	return float64(todayVolume) >= avg*multiplier, avg
}
