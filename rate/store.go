package rate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/satsview/dbopen"
)

// Schema is the rate history table.
const Schema = `
CREATE TABLE IF NOT EXISTS btc_rates (
	currency     TEXT    NOT NULL,
	fiat_per_btc REAL    NOT NULL CHECK (fiat_per_btc > 0),
	as_of        INTEGER NOT NULL,
	PRIMARY KEY (currency, as_of)
);
`

// Store persists accepted rates so a restarted process can serve the last
// known value (classified by its real age) before the first refresh.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite rate store at path.
func OpenStore(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("rate: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an open database and applies the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("rate: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// HistoryRetention bounds how far back Save keeps rows for a currency.
const HistoryRetention = 30 * 24 * time.Hour

// Save records one accepted rate and drops rows of the same currency older
// than HistoryRetention. Saving the same (currency, as_of) twice keeps the
// latest value.
func (s *Store) Save(ctx context.Context, currency string, fiatPerBtc float64, asOf time.Time) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO btc_rates (currency, fiat_per_btc, as_of) VALUES (?, ?, ?)
			 ON CONFLICT(currency, as_of) DO UPDATE SET fiat_per_btc = excluded.fiat_per_btc`,
			currency, fiatPerBtc, asOf.UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM btc_rates WHERE currency = ? AND as_of < ?`,
			currency, asOf.Add(-HistoryRetention).UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("rate: save: %w", err)
	}
	return nil
}

// Latest returns the most recent stored rate for currency. ok is false when
// nothing was stored yet.
func (s *Store) Latest(ctx context.Context, currency string) (fiatPerBtc float64, asOf time.Time, ok bool, err error) {
	var ms int64
	err = s.db.QueryRowContext(ctx,
		`SELECT fiat_per_btc, as_of FROM btc_rates WHERE currency = ? ORDER BY as_of DESC LIMIT 1`,
		currency).Scan(&fiatPerBtc, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("rate: latest: %w", err)
	}
	return fiatPerBtc, time.UnixMilli(ms), true, nil
}

// Prune deletes rates older than before, keeping the newest row per
// currency. It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM btc_rates WHERE as_of < ? AND as_of < (
			SELECT MAX(as_of) FROM btc_rates r WHERE r.currency = btc_rates.currency)`,
		before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("rate: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
