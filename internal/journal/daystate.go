package journal

import (
	"context"
	"database/sql"

	"trend-trader/internal/types"
)

// SaveDayState stores the engine's serialized per-day state.
func (s *SQLite) SaveDayState(ctx context.Context, date string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_state (trade_date, payload) VALUES (?, ?)
		ON CONFLICT (trade_date) DO UPDATE SET payload = excluded.payload, updated_at = datetime('now')`,
		date, string(payload))
	return err
}

// LoadDayState returns the state saved for date, or types.ErrNotFound.
func (s *SQLite) LoadDayState(ctx context.Context, date string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM day_state WHERE trade_date = ?`, date).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// LatestDayState returns the newest saved state and its date.
func (s *SQLite) LatestDayState(ctx context.Context) (string, []byte, error) {
	var date, payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT trade_date, payload FROM day_state ORDER BY trade_date DESC LIMIT 1`).Scan(&date, &payload)
	if err == sql.ErrNoRows {
		return "", nil, types.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	return date, []byte(payload), nil
}
