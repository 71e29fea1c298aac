package eod

import (
	"time"

	"trend-trader/internal/interfaces"
)

var defaultSummarizer interfaces.EodSummarizer = NewSummarizer(nil, nil)

func SetDefaultSummarizer(summarizer interfaces.EodSummarizer) {
	defaultSummarizer = summarizer
}

// NewSummarizer returns a summarizer for trading days in loc (KST when
// nil). now may be nil.
func NewSummarizer(loc *time.Location, now func() time.Time) interfaces.EodSummarizer {
	if loc == nil {
		loc = time.FixedZone("KST", 9*3600)
	}
	if now == nil {
		now = time.Now
	}
	return &eodSummarizer{loc: loc, now: now}
}

func SummarizeDay(t time.Time) (string, error) {
	return defaultSummarizer.SummarizeDay(t)
}

func SummarizeToday() (string, error) {
	return defaultSummarizer.SummarizeToday()
}

func ShouldRunNow() (bool, string) {
	return defaultSummarizer.ShouldRunNow()
}
