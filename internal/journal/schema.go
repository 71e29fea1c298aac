package journal

// Schema creates every table the trader persists. Statements are
// idempotent so NewSQLite can run them on each open.
const Schema = `
CREATE TABLE IF NOT EXISTS trade_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    order_no      TEXT NOT NULL,
    stock_code    TEXT NOT NULL,
    stock_name    TEXT NOT NULL DEFAULT '',
    trade_type    TEXT NOT NULL,
    quantity      INTEGER NOT NULL,
    price         INTEGER NOT NULL,
    trade_date    TEXT NOT NULL,
    trade_time    TEXT NOT NULL DEFAULT '',
    credit_class  TEXT NOT NULL,
    loan_date     TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (order_no, trade_date)
);

CREATE INDEX IF NOT EXISTS idx_trade_history_date ON trade_history (trade_date);

CREATE TABLE IF NOT EXISTS lots (
    stock_code      TEXT NOT NULL,
    stock_name      TEXT NOT NULL DEFAULT '',
    credit_class    TEXT NOT NULL,
    loan_date       TEXT NOT NULL DEFAULT '',
    trade_date      TEXT NOT NULL,
    net_quantity    INTEGER NOT NULL CHECK (net_quantity >= 0),
    avg_price       TEXT NOT NULL,
    total_cost      TEXT NOT NULL,
    is_closed       INTEGER NOT NULL DEFAULT 0,
    closed_date     TEXT NOT NULL DEFAULT '',
    current_price   INTEGER NOT NULL DEFAULT 0,
    unrealized_pnl  TEXT NOT NULL DEFAULT '0',
    return_pct      TEXT NOT NULL DEFAULT '0',
    holding_days    INTEGER NOT NULL DEFAULT 0,
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (stock_code, credit_class, loan_date, trade_date)
);

CREATE TABLE IF NOT EXISTS holdings (
    snapshot_date    TEXT NOT NULL,
    stock_code       TEXT NOT NULL,
    stock_name       TEXT NOT NULL DEFAULT '',
    quantity         INTEGER NOT NULL,
    avg_price        INTEGER NOT NULL,
    current_price    INTEGER NOT NULL DEFAULT 0,
    eval_amount      INTEGER NOT NULL DEFAULT 0,
    pnl_amount       INTEGER NOT NULL DEFAULT 0,
    pnl_rate         REAL NOT NULL DEFAULT 0,
    loan_date        TEXT NOT NULL DEFAULT '',
    credit_class     TEXT NOT NULL,
    purchase_amount  INTEGER NOT NULL DEFAULT 0,
    today_buy_qty    INTEGER NOT NULL DEFAULT 0,
    today_sell_qty   INTEGER NOT NULL DEFAULT 0,
    UNIQUE (snapshot_date, stock_code, credit_class, loan_date)
);

CREATE TABLE IF NOT EXISTS holdings_snapshots (
    snapshot_date  TEXT PRIMARY KEY,
    positions      INTEGER NOT NULL DEFAULT 0,
    taken_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS portfolio_daily (
    date            TEXT PRIMARY KEY,
    net_assets      INTEGER NOT NULL,
    stock_assets    INTEGER NOT NULL,
    cash            INTEGER NOT NULL,
    leverage_pct    TEXT NOT NULL,
    position_count  INTEGER NOT NULL,
    cost_basis      TEXT NOT NULL,
    unrealized_pnl  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS day_state (
    trade_date  TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`
