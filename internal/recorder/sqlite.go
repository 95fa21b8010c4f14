package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"TrendSentinel/internal/model"
)

// SQLiteRecorder persists check history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode lets dashboards read while checks write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			cycle_id   TEXT,
			exchange   TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			trend      TEXT,
			price      REAL,
			change_24h REAL,
			bar_time   INTEGER,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_inst ON checks(exchange, symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS transitions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			exchange  TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			old_trend TEXT,
			new_trend TEXT,
			price     REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS cycles (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			checked     INTEGER,
			skipped     INTEGER,
			failed      INTEGER,
			transitions INTEGER,
			degraded    INTEGER,
			errors      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(started_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func trendText(t model.Trend) any {
	if t == 0 {
		return nil
	}
	return t.String()
}

func (r *SQLiteRecorder) RecordCheck(rec *CheckRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	checkedAt := rec.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	var barTime any
	if !rec.BarTime.IsZero() {
		barTime = rec.BarTime.Unix()
	}
	_, err := r.db.Exec(`INSERT INTO checks
		(timestamp, cycle_id, exchange, symbol, trend, price, change_24h, bar_time, error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		checkedAt.UnixMilli(), rec.CycleID, rec.Instrument.Exchange, rec.Instrument.Symbol,
		trendText(rec.Trend), rec.Price, rec.Change24h, barTime, rec.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordTransition(ev *model.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO transitions
		(timestamp, exchange, symbol, old_trend, new_trend, price)
		VALUES (?,?,?,?,?,?)`,
		ev.Time.UnixMilli(), ev.Instrument.Exchange, ev.Instrument.Symbol,
		trendText(ev.Old), trendText(ev.New), ev.Price,
	)
	return err
}

func (r *SQLiteRecorder) RecordCycle(report *model.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs, err := json.Marshal(report.Errors)
	if err != nil {
		return fmt.Errorf("encode cycle errors: %w", err)
	}
	degraded := 0
	if report.Degraded {
		degraded = 1
	}
	_, err = r.db.Exec(`INSERT OR REPLACE INTO cycles
		(id, started_at, finished_at, checked, skipped, failed, transitions, degraded, errors)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		report.ID, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
		report.Checked, report.Skipped, report.Failed, report.Transitions, degraded, string(errs),
	)
	return err
}

func (r *SQLiteRecorder) History(inst model.Instrument, limit int) ([]CheckRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`SELECT timestamp, cycle_id, trend, price, change_24h, bar_time, error
		FROM checks WHERE exchange = ? AND symbol = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		inst.Exchange, inst.Symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []CheckRecord
	for rows.Next() {
		var (
			ts      int64
			cycleID sql.NullString
			trend   sql.NullString
			price   sql.NullFloat64
			change  sql.NullFloat64
			barTime sql.NullInt64
			errText sql.NullString
		)
		if err := rows.Scan(&ts, &cycleID, &trend, &price, &change, &barTime, &errText); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec := CheckRecord{
			CycleID:    cycleID.String,
			Instrument: inst,
			Price:      price.Float64,
			Change24h:  change.Float64,
			CheckedAt:  time.UnixMilli(ts).UTC(),
			Error:      errText.String,
		}
		if trend.Valid {
			if t, err := model.ParseTrend(trend.String); err == nil {
				rec.Trend = t
			}
		}
		if barTime.Valid {
			rec.BarTime = time.Unix(barTime.Int64, 0).UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
