package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"marketcore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the journal for tooling and backfill.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadGreeks reads journalled greeks for a contract after the given
// timestamp, ordered by computed_at ascending.
func (r *Reader) ReadGreeks(seg model.Segment, token int64, afterTS int64) ([]model.GreeksResult, error) {
	rows, err := r.db.Query(`
		SELECT segment, token, computed_at, iv, delta, gamma, theta, vega, rho, theo_price, spot, market, converged, reason
		FROM greeks_journal
		WHERE segment = ? AND token = ? AND computed_at > ?
		ORDER BY computed_at ASC
	`, int(seg), token, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query greeks_journal: %w", err)
	}
	defer rows.Close()

	var results []model.GreeksResult
	for rows.Next() {
		var g model.GreeksResult
		var segInt int
		var tsUnix int64
		var converged int
		if err := rows.Scan(&segInt, &g.Token, &tsUnix, &g.IV, &g.Delta, &g.Gamma, &g.Theta, &g.Vega, &g.Rho, &g.TheoPrice, &g.SpotPrice, &g.MarketPrice, &converged, &g.Reason); err != nil {
			return nil, fmt.Errorf("sqlite scan greeks_journal: %w", err)
		}
		g.Segment = model.Segment(segInt)
		g.ComputedAt = time.Unix(tsUnix, 0).UTC()
		g.Converged = converged != 0
		results = append(results, g)
	}
	return results, rows.Err()
}

// ReadATMHistory reads the journalled ATM transitions for a symbol and
// expiry, ordered by computed_at ascending.
func (r *Reader) ReadATMHistory(symbol, expiry string) ([]model.ATMInfo, error) {
	rows, err := r.db.Query(`
		SELECT symbol, expiry, spot, strike_step, atm_strike, call_token, put_token, computed_at
		FROM atm_transitions
		WHERE symbol = ? AND expiry = ?
		ORDER BY computed_at ASC, id ASC
	`, symbol, expiry)
	if err != nil {
		return nil, fmt.Errorf("sqlite query atm_transitions: %w", err)
	}
	defer rows.Close()

	var infos []model.ATMInfo
	for rows.Next() {
		var info model.ATMInfo
		var tsUnix int64
		if err := rows.Scan(&info.Symbol, &info.Expiry, &info.SpotPrice, &info.StrikeStep, &info.ATMStrike, &info.CallToken, &info.PutToken, &tsUnix); err != nil {
			return nil, fmt.Errorf("sqlite scan atm_transitions: %w", err)
		}
		info.ComputedAt = time.Unix(tsUnix, 0).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
