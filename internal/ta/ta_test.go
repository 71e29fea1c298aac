package ta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"trend-trader/internal/types"
)

func bars(n int, volume int64) []types.DailyBar {
	out := make([]types.DailyBar, n)
	for i := range out {
		out[i] = types.DailyBar{Date: fmt.Sprintf("2025-11-%02d", i+1), Volume: volume}
	}
	return out
}

func TestAverageVolume(t *testing.T) {
	history := bars(25, 1_000)
	history[24].Volume = 6_000 // 2025-11-25

	avg, ok := AverageVolume(history, "2025-12-01", 5)
	assert.True(t, ok)
	assert.InDelta(t, 2_000, avg, 1e-9)

	_, ok = AverageVolume(history, "2025-11-03", 5)
	assert.False(t, ok)
}

func TestVolumeConfirmedIgnoresTodayBar(t *testing.T) {
	history := append(bars(20, 1_000), types.DailyBar{Date: "2025-12-16", Volume: 50_000})

	ok, avg := VolumeConfirmed(history, "2025-12-16", 1_500, 20, 1.5)
	assert.True(t, ok)
	assert.InDelta(t, 1_000, avg, 1e-9)

	ok, _ = VolumeConfirmed(history, "2025-12-16", 1_499, 20, 1.5)
	assert.False(t, ok)
}

func TestVolumeConfirmedWithoutHistory(t *testing.T) {
	ok, _ := VolumeConfirmed(bars(3, 1_000), "2025-12-16", 10_000, 20, 1.5)
	assert.False(t, ok)
}
