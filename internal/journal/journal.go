// Package journal keeps a local SQLite history of every published report,
// for CSV export and archive upload.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-airquality/internal/cycle"
)

// Entry is one row of the readings table.
type Entry struct {
	ID          int64
	BootID      string
	TS          time.Time
	PM25        float64
	AQI         int
	Category    string
	Temperature float64
	Humidity    float64
	Unit        string
}

// Mark records how far a target has been archived.
type Mark struct {
	Target    string
	ReadingID int64
	SHA       string
}

// tsLayout is fixed-width so ts compares correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Journal struct {
	db     *sql.DB
	bootID string
	logger *slog.Logger
}

// New wraps an opened and migrated database. bootID tags every row
// appended by this process.
func New(db *sql.DB, bootID string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, bootID: bootID, logger: logger}
}

// Record appends a published report. It satisfies cycle.Recorder.
func (j *Journal) Record(ctx context.Context, r cycle.Report) error {
	_, err := j.Append(ctx, Entry{
		BootID:      j.bootID,
		TS:          r.At,
		PM25:        r.PM25,
		AQI:         r.AQI.Value,
		Category:    r.AQI.Category.String(),
		Temperature: r.Env.Temperature,
		Humidity:    r.Env.Humidity,
		Unit:        string(r.Env.Unit),
	})
	return err
}

func (j *Journal) Append(ctx context.Context, e Entry) (int64, error) {
	if e.BootID == "" {
		e.BootID = j.bootID
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO readings (boot_id, ts, pm25, aqi, category, temperature, humidity, unit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BootID, e.TS.UTC().Format(tsLayout), e.PM25, e.AQI, e.Category,
		e.Temperature, e.Humidity, e.Unit,
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	j.logger.Debug("reading journaled", "id", id, "aqi", e.AQI)
	return id, nil
}

// List returns entries with ts >= since in insertion order. A zero since
// returns everything; limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	var sinceStr string
	if !since.IsZero() {
		sinceStr = since.UTC().Format(tsLayout)
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, boot_id, ts, pm25, aqi, category, temperature, humidity, unit
		 FROM readings WHERE ts >= ? ORDER BY id LIMIT ?`,
		sinceStr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			j.logger.Error("close readings rows", "error", err)
		}
	}()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.BootID, &ts, &e.PM25, &e.AQI, &e.Category,
			&e.Temperature, &e.Humidity, &e.Unit); err != nil {
			return nil, err
		}
		t, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		e.TS = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastID returns the newest reading id, or 0 for an empty journal.
func (j *Journal) LastID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(id) FROM readings`).Scan(&id); err != nil {
		return 0, fmt.Errorf("last reading id: %w", err)
	}
	return id.Int64, nil
}

// LastMark returns the archive mark for target. ok is false when target has
// never been archived.
func (j *Journal) LastMark(ctx context.Context, target string) (m Mark, ok bool, err error) {
	var sha sql.NullString
	err = j.db.QueryRowContext(ctx,
		`SELECT target, reading_id, sha FROM archive_marks WHERE target = ?`, target,
	).Scan(&m.Target, &m.ReadingID, &sha)
	if errors.Is(err, sql.ErrNoRows) {
		return Mark{}, false, nil
	}
	if err != nil {
		return Mark{}, false, fmt.Errorf("read archive mark: %w", err)
	}
	m.SHA = sha.String
	return m, true, nil
}

func (j *Journal) SetMark(ctx context.Context, m Mark) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO archive_marks (target, reading_id, sha) VALUES (?, ?, ?)
		 ON CONFLICT(target) DO UPDATE SET
		   reading_id = excluded.reading_id,
		   sha = excluded.sha,
		   updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		m.Target, m.ReadingID, m.SHA,
	)
	if err != nil {
		return fmt.Errorf("write archive mark: %w", err)
	}
	return nil
}
