package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"oibot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read access to a kline/position database, used by the
// replayer and by startup resume.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database read-only.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	return &Reader{db: db}, nil
}

// ReadKlines returns all closed klines for a timeframe with close time
// after fromMs (0 = all), ordered by close time.
func (r *Reader) ReadKlines(tf string, fromMs int64) ([]model.Kline, error) {
	rows, err := r.db.Query(`
		SELECT symbol, tf, close_ts, open, high, low, close, volume
		FROM klines WHERE tf = ? AND close_ts > ? ORDER BY close_ts ASC
	`, tf, fromMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Kline
	for rows.Next() {
		var k model.Kline
		var closeMs int64
		if err := rows.Scan(&k.Symbol, &k.Timeframe, &closeMs, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, err
		}
		k.CloseTime = time.UnixMilli(closeMs).UTC()
		k.Closed = true
		out = append(out, k)
	}
	return out, rows.Err()
}

// LoadOpenPositions returns the persisted positions still mid-lifecycle,
// for resume after a restart. Rows that fail validation are skipped.
func (r *Reader) LoadOpenPositions() ([]model.Position, error) {
	rows, err := r.db.Query(`SELECT data FROM positions WHERE state != ?`, string(model.StateClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		p, err := model.PositionFromJSON([]byte(data))
		if err != nil {
			log.Printf("[sqlite] skipping bad persisted position: %v", err)
			continue
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent indicator engine snapshot, or
// nil when none exists.
func (r *Reader) LatestSnapshot() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`SELECT data FROM indicator_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
