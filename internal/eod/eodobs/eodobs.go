package eodobs

import (
	"context"
	"time"

	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
	loc        *time.Location
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

// Wrap adds spans and operation timing. Dates are logged in loc.
func Wrap(summarizer interfaces.EodSummarizer, loc *time.Location) interfaces.EodSummarizer {
	if loc == nil {
		loc = time.UTC
	}
	return &observableEodSummarizer{summarizer: summarizer, loc: loc}
}

func (oes *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()
	return oes.observe(ctx, t.In(oes.loc).Format("2006-01-02"), func() (string, error) {
		return oes.summarizer.SummarizeDay(t)
	})
}

func (oes *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()
	return oes.observe(ctx, time.Now().In(oes.loc).Format("2006-01-02"), oes.summarizer.SummarizeToday)
}

func (oes *observableEodSummarizer) observe(ctx context.Context, date string, run func() (string, error)) (string, error) {
	op := logger.StartOperation(ctx, "eod_summary", "date", date)
	csvPath, err := run()
	if err != nil {
		op.EndWithError(err)
		return "", err
	}
	if csvPath == "" {
		op.End("trades", 0)
		return "", nil
	}
	op.End("csv_path", csvPath)
	logger.InfoSkip(ctx, 1, "EOD summary written", "date", date, "csv_path", csvPath)
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow() (bool, string) {
	shouldRun, csvPath := oes.summarizer.ShouldRunNow()
	if shouldRun {
		logger.Debug(context.Background(), "EOD summary due", "csv_path", csvPath)
	}
	return shouldRun, csvPath
}
