// Package archive exports the journal as CSV and uploads it to a GitHub
// repository, once or on a cron schedule.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-airquality/internal/journal"
)

// Store is the part of the journal the archiver reads and marks.
type Store interface {
	List(ctx context.Context, since time.Time, limit int) ([]journal.Entry, error)
	LastID(ctx context.Context) (int64, error)
	LastMark(ctx context.Context, target string) (journal.Mark, bool, error)
	SetMark(ctx context.Context, m journal.Mark) error
}

// Uploader stores the CSV document somewhere durable.
type Uploader interface {
	Target() string
	Put(ctx context.Context, content []byte, message string) (string, error)
}

type Archiver struct {
	store    Store
	uploader Uploader
	logger   *slog.Logger
}

func New(store Store, uploader Uploader, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, uploader: uploader, logger: logger}
}

// Result describes one archive run.
type Result struct {
	Uploaded bool
	Rows     int
	SHA      string
}

// Run uploads the full journal as CSV unless nothing was appended since the
// last successful upload to the same target, or force is set.
func (a *Archiver) Run(ctx context.Context, force bool) (Result, error) {
	target := a.uploader.Target()

	lastID, err := a.store.LastID(ctx)
	if err != nil {
		return Result{}, err
	}
	mark, ok, err := a.store.LastMark(ctx, target)
	if err != nil {
		return Result{}, err
	}
	if !force && ok && mark.ReadingID >= lastID {
		a.logger.Info("archive up to date", "target", target, "reading_id", lastID)
		return Result{SHA: mark.SHA}, nil
	}

	entries, err := a.store.List(ctx, time.Time{}, 0)
	if err != nil {
		return Result{}, err
	}
	var buf bytes.Buffer
	if err := journal.WriteCSV(&buf, entries); err != nil {
		return Result{}, fmt.Errorf("encode csv: %w", err)
	}

	msg := fmt.Sprintf("Update air quality readings (%d rows)", len(entries))
	sha, err := a.uploader.Put(ctx, buf.Bytes(), msg)
	if err != nil {
		return Result{}, err
	}
	if err := a.store.SetMark(ctx, journal.Mark{Target: target, ReadingID: lastID, SHA: sha}); err != nil {
		// The upload itself succeeded; the next run re-uploads.
		a.logger.Warn("failed to record archive mark", "target", target, "error", err)
	}
	a.logger.Info("archive uploaded", "target", target, "rows", len(entries), "sha", sha)
	return Result{Uploaded: true, Rows: len(entries), SHA: sha}, nil
}
