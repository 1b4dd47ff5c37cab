// Command archive uploads the local reading journal to GitHub as CSV.
//
// Usage:
//
//	archive [upload|export]
//
// upload (the default) writes the CSV to GITHUB_REPO/GITHUB_PATH, skipping
// the upload when nothing was journaled since the last one unless -force is
// given. export writes the CSV to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudpico-airquality/internal/app"
	"cloudpico-airquality/internal/archive"
	"cloudpico-airquality/internal/config"
	"cloudpico-airquality/internal/journal"
	"cloudpico-airquality/internal/logging"
)

var version = "dev"
var appName = "cloudpico-airquality-archive"

func main() {
	force := flag.Bool("force", false, "upload even if nothing changed")
	since := flag.Duration("since", 0, "export only the last duration of readings (export only)")
	flag.Parse()

	cmd := "upload"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.JournalPath == "" {
		fmt.Fprintln(os.Stderr, "config error: JOURNAL_PATH is not set")
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg, version, appName, ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cmd, *force, *since); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("archive failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, cmd string, force bool, since time.Duration) error {
	db, err := journal.Open(journal.Options{Path: cfg.JournalPath, LogSQL: cfg.JournalLogSQL}, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("db close", "err", err)
		}
	}()
	if err := journal.Migrate(ctx, db, slog.Default()); err != nil {
		return err
	}
	j := journal.New(db, "", slog.Default())

	switch cmd {
	case "upload":
		gh, err := app.NewGitHubUploader(cfg)
		if err != nil {
			return err
		}
		res, err := archive.New(j, gh, slog.Default()).Run(ctx, force)
		if err != nil {
			return err
		}
		if res.Uploaded {
			fmt.Printf("uploaded %d rows (%s)\n", res.Rows, res.SHA)
		} else {
			fmt.Println("archive already up to date")
		}
		return nil
	case "export":
		var from time.Time
		if since > 0 {
			from = time.Now().Add(-since)
		}
		entries, err := j.List(ctx, from, 0)
		if err != nil {
			return err
		}
		return journal.WriteCSV(os.Stdout, entries)
	default:
		return fmt.Errorf("unknown command %q (allowed: upload, export)", cmd)
	}
}
