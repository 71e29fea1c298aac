// Package tradelog is the durable per-day journal of executed orders and
// engine decisions. Each trading day (KST) gets one JSON-lines file.
package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	fileExt    = ".jsonl"
)

var (
	mu  sync.Mutex
	kst = mustKST()

	trades    dayWriter
	decisions dayWriter
)

func mustKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}

// Entry is one executed or submitted order.
type Entry struct {
	Time     string `json:"time"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Side     string `json:"side"`
	Channel  string `json:"channel,omitempty"`
	Qty      int64  `json:"qty"`
	Price    int64  `json:"price"`
	OrderID  string `json:"order_id"`
	Reason   string `json:"reason"`
	Session  string `json:"session,omitempty"`
	Venue    string `json:"venue,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Rejected bool   `json:"rejected,omitempty"`
}

// DecisionEntry records why the engine acted or declined to act.
type DecisionEntry struct {
	Time    string `json:"time"`
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Price   int64  `json:"price"`
	Session string `json:"session,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// DailyPath is the trade journal file for the KST date of t.
func DailyPath(t time.Time) string {
	return filepath.Join(logDir(), t.In(kst).Format("2006-01-02")+fileExt)
}

func decisionsPath(t time.Time) string {
	return filepath.Join(logDir(), "decisions", t.In(kst).Format("2006-01-02")+fileExt)
}

// dayWriter keeps one zap JSON logger open for the current file and
// reopens it when the date rolls over.
type dayWriter struct {
	path string
	file *os.File
	log  *zap.Logger
}

func (w *dayWriter) logger(path string) (*zap.Logger, error) {
	if w.log != nil && w.path == path {
		return w.log, nil
	}
	w.close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:    "logged_at",
		MessageKey: "kind",
		EncodeTime: func(t time.Time, pe zapcore.PrimitiveArrayEncoder) {
			pe.AppendString(t.In(kst).Format(time.RFC3339))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	w.path, w.file = path, f
	w.log = zap.New(zapcore.NewCore(enc, zapcore.AddSync(f), zapcore.InfoLevel))
	return w.log, nil
}

func (w *dayWriter) close() {
	if w.log != nil {
		_ = w.log.Sync()
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.path, w.file, w.log = "", nil, nil
}

// Append writes one order line to today's journal.
func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().In(kst)
	e.Time = now.Format(timeLayout)

	l, err := trades.logger(DailyPath(now))
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("time", e.Time),
		zap.String("symbol", e.Symbol),
		zap.String("side", e.Side),
		zap.Int64("qty", e.Qty),
		zap.Int64("price", e.Price),
		zap.String("order_id", e.OrderID),
		zap.String("reason", e.Reason),
	}
	fields = appendNonEmpty(fields,
		"name", e.Name, "channel", e.Channel, "session", e.Session, "venue", e.Venue, "run_id", e.RunID)
	if e.Rejected {
		fields = append(fields, zap.Bool("rejected", true))
	}
	l.Info("trade", fields...)
	return l.Sync()
}

// AppendDecision writes one decision line to today's decisions journal.
func AppendDecision(e DecisionEntry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().In(kst)
	e.Time = now.Format(timeLayout)

	l, err := decisions.logger(decisionsPath(now))
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("time", e.Time),
		zap.String("symbol", e.Symbol),
		zap.String("action", e.Action),
		zap.String("reason", e.Reason),
		zap.Int64("price", e.Price),
	}
	fields = appendNonEmpty(fields, "session", e.Session, "run_id", e.RunID)
	l.Info("decision", fields...)
	return l.Sync()
}

func appendNonEmpty(fields []zap.Field, kv ...string) []zap.Field {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			fields = append(fields, zap.String(kv[i], kv[i+1]))
		}
	}
	return fields
}

// Close flushes and closes the open journal files.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	trades.close()
	decisions.close()
}

// ReadDay returns the order lines journaled on the KST date of t. A
// missing file yields no entries.
func ReadDay(t time.Time) ([]Entry, error) {
	f, err := os.Open(DailyPath(t))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// CompressOlder gzips journal files last modified more than retentionDays
// ago and removes the originals.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(logDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != fileExt {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
