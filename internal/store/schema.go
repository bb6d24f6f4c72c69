package store

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledgers (
    ledger_id            TEXT PRIMARY KEY,
    total_deposited      TEXT NOT NULL,
    checkpoint           INTEGER NOT NULL,
    historical_spend     TEXT NOT NULL,
    last_alert_sent      INTEGER NOT NULL DEFAULT 0,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS monthly_history (
    ledger_id            TEXT NOT NULL REFERENCES ledgers(ledger_id) ON DELETE CASCADE,
    month                TEXT NOT NULL,
    amount               TEXT NOT NULL,
    PRIMARY KEY (ledger_id, month)
);
`
