package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/metrics"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := New(":0", "run-1", nil, pinger{}).Handler()
	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "run-1", body["run_id"])

	h = New(":0", "run-1", nil, pinger{err: errors.New("database is locked")}).Handler()
	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestState(t *testing.T) {
	h := New(":0", "", nil, nil).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/state").Code)

	h = New(":0", "", func() any { return map[string]int{"positions": 2} }, nil).Handler()
	rec := get(t, h, "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":2}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	metrics.IncTrigger("breakout")
	rec := get(t, New(":0", "", nil, nil).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trader_triggers_total{entry_type="breakout"}`)
}
