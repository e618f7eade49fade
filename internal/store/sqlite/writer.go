package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"marketcore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/journal.db"
}

// Writer is a single-goroutine SQLite journal for ATM transitions and
// computed greeks, with transaction batching for greeks.
type Writer struct {
	db *sql.DB

	// OnCommit is called after every successful batch commit (for metrics).
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS atm_transitions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol      TEXT    NOT NULL,
			expiry      TEXT    NOT NULL,
			spot        REAL    NOT NULL,
			strike_step REAL    NOT NULL,
			atm_strike  REAL    NOT NULL,
			call_token  INTEGER NOT NULL,
			put_token   INTEGER NOT NULL,
			computed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_atm_symbol_expiry
			ON atm_transitions (symbol, expiry, computed_at);

		CREATE TABLE IF NOT EXISTS greeks_journal (
			segment     INTEGER NOT NULL,
			token       INTEGER NOT NULL,
			computed_at INTEGER NOT NULL,
			iv          REAL,
			delta       REAL,
			gamma       REAL,
			theta       REAL,
			vega        REAL,
			rho         REAL,
			theo_price  REAL,
			spot        REAL,
			market      REAL,
			converged   INTEGER NOT NULL,
			reason      TEXT,
			PRIMARY KEY (segment, token, computed_at)
		);
	`)
	return err
}

// WriteATM appends an ATM transition row. Transitions are rare enough
// that each gets its own statement, no batching.
func (w *Writer) WriteATM(info model.ATMInfo) error {
	_, err := w.db.Exec(`
		INSERT INTO atm_transitions (symbol, expiry, spot, strike_step, atm_strike, call_token, put_token, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.Symbol, info.Expiry, info.SpotPrice, info.StrikeStep,
		info.ATMStrike, info.CallToken, info.PutToken, info.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert atm: %w", err)
	}
	return nil
}

// Run reads greeks results from resCh and inserts them in batched
// transactions. Flushes every batchSize results OR every flushDelay,
// whichever first. Blocks until ctx is cancelled or resCh is closed.
func (w *Writer) Run(ctx context.Context, resCh <-chan model.GreeksResult) {
	batch := make([]model.GreeksResult, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			if w.OnCommit != nil {
				w.OnCommit(time.Since(start))
			}
			log.Printf("[sqlite] committed %d greeks in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case res, ok := <-resCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, res)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of greeks results in a single transaction.
func (w *Writer) insertBatch(results []model.GreeksResult) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO greeks_journal
			(segment, token, computed_at, iv, delta, gamma, theta, vega, rho, theo_price, spot, market, converged, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		converged := 0
		if r.Converged {
			converged = 1
		}
		_, err := stmt.Exec(
			int(r.Segment), r.Token, r.ComputedAt.Unix(),
			r.IV, r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho, r.TheoPrice,
			r.SpotPrice, r.MarketPrice, converged, r.Reason,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LastATM returns the most recent journalled ATM strike for a symbol
// and expiry, or ok=false when none exists.
func (w *Writer) LastATM(symbol, expiry string) (model.ATMInfo, bool, error) {
	var info model.ATMInfo
	var computedAt int64
	err := w.db.QueryRow(`
		SELECT symbol, expiry, spot, strike_step, atm_strike, call_token, put_token, computed_at
		FROM atm_transitions
		WHERE symbol = ? AND expiry = ?
		ORDER BY computed_at DESC, id DESC LIMIT 1`,
		symbol, expiry,
	).Scan(&info.Symbol, &info.Expiry, &info.SpotPrice, &info.StrikeStep,
		&info.ATMStrike, &info.CallToken, &info.PutToken, &computedAt)
	if err == sql.ErrNoRows {
		return model.ATMInfo{}, false, nil
	}
	if err != nil {
		return model.ATMInfo{}, false, err
	}
	info.ComputedAt = time.Unix(computedAt, 0)
	return info, true, nil
}

// PruneGreeks deletes journal rows older than the cutoff.
func (w *Writer) PruneGreeks(before time.Time) (int64, error) {
	res, err := w.db.Exec(`DELETE FROM greeks_journal WHERE computed_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
