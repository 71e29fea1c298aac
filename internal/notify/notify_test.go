package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/types"
)

type chanSource struct {
	ch  chan types.Fill
	err error
}

func (s *chanSource) Fills(context.Context) (<-chan types.Fill, error) {
	return s.ch, s.err
}

type recorder struct {
	mu    sync.Mutex
	fills []types.Fill
	subs  []string
}

func (r *recorder) OnFill(_ context.Context, f types.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
}

func (r *recorder) Subscribe(codes ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, codes...)
	return len(codes)
}

func TestListenerForwardsFills(t *testing.T) {
	at := time.Date(2025, 12, 16, 9, 1, 0, 0, time.UTC)
	src := &chanSource{ch: make(chan types.Fill, 4)}
	rec := &recorder{}
	l := NewListener(src, rec, rec)

	buy := types.Fill{OrderID: "1", StockCode: "005930", Side: types.SideBuy, Qty: 10, Price: 100, At: at}
	src.ch <- buy
	src.ch <- buy
	src.ch <- types.Fill{OrderID: "1", StockCode: "005930", Side: types.SideBuy, Qty: 5, Price: 100, At: at.Add(time.Second)}
	src.ch <- types.Fill{OrderID: "2", StockCode: "000660", Side: types.SideSell, Qty: 3, Price: 200, At: at}
	close(src.ch)

	require.NoError(t, l.Run(context.Background()))

	require.Len(t, rec.fills, 3, "identical notice forwarded once")
	assert.Equal(t, int64(5), rec.fills[1].Qty)
	assert.Equal(t, []string{"005930", "005930"}, rec.subs, "only buys subscribe")
}

func TestListenerStopsOnCancel(t *testing.T) {
	src := &chanSource{ch: make(chan types.Fill)}
	l := NewListener(src, &recorder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerStreamError(t *testing.T) {
	l := NewListener(&chanSource{err: errors.New("no websocket")}, &recorder{}, nil)
	err := l.Run(context.Background())
	assert.ErrorContains(t, err, "open fill stream")
}
