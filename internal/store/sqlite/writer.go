// Package sqlite persists klines, signals and position lifecycle state
// in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"oibot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/tradebot.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching
// for klines and immediate writes for lifecycle state.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, observes each kline batch commit duration.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a Writer, initializing the database with WAL mode and the
// schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

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
		CREATE TABLE IF NOT EXISTS klines (
			symbol   TEXT    NOT NULL,
			tf       TEXT    NOT NULL,
			close_ts INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL,
			PRIMARY KEY (symbol, tf, close_ts)
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol     TEXT    NOT NULL PRIMARY KEY,
			state      TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS position_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			state      TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_symbol ON position_history(symbol);

		CREATE TABLE IF NOT EXISTS signals (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			direction TEXT NOT NULL,
			price     REAL NOT NULL,
			stop      REAL NOT NULL,
			reason    TEXT,
			ts        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads closed klines and inserts them in batched transactions.
// Flushes every batchSize klines or every flushDelay, whichever first.
// Blocks until ctx is cancelled or klineCh is closed.
func (w *Writer) Run(ctx context.Context, klineCh <-chan model.Kline) {
	batch := make([]model.Kline, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case k, ok := <-klineCh:
			if !ok {
				flush()
				return
			}
			if !k.Closed {
				continue
			}
			batch = append(batch, k)
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

func (w *Writer) insertBatch(klines []model.Kline) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO klines (symbol, tf, close_ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, k := range klines {
		_, err := stmt.Exec(k.Symbol, k.Timeframe, k.CloseTime.UnixMilli(),
			k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// RecordPosition upserts the symbol's latest lifecycle state and appends
// it to the history log. Satisfies the lifecycle manager's journal.
func (w *Writer) RecordPosition(p model.Position) {
	now := time.Now().UnixMilli()
	data := string(p.JSON())
	_, err := w.db.Exec(`
		INSERT INTO positions (symbol, state, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET state=excluded.state, data=excluded.data, updated_at=excluded.updated_at
	`, p.Symbol, string(p.State), data, now)
	if err != nil {
		log.Printf("[sqlite] record position %s: %v", p.Symbol, err)
		return
	}
	if _, err := w.db.Exec(`INSERT INTO position_history (symbol, state, data, created_at) VALUES (?, ?, ?, ?)`,
		p.Symbol, string(p.State), data, now); err != nil {
		log.Printf("[sqlite] record position history %s: %v", p.Symbol, err)
	}
}

// RecordSignal appends an emitted signal for audit.
func (w *Writer) RecordSignal(sig *model.Signal) {
	_, err := w.db.Exec(`INSERT INTO signals (symbol, direction, price, stop, reason, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Direction), sig.Price, sig.StopPrice, sig.Reason, sig.Time.UnixMilli())
	if err != nil {
		log.Printf("[sqlite] record signal %s: %v", sig.Symbol, err)
	}
}

// SaveSnapshot stores an indicator engine snapshot, keeping the last 10.
func (w *Writer) SaveSnapshot(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}
	_, err := w.db.Exec(`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT 10)`)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
