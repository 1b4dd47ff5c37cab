package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-airquality/internal/aio"
	"cloudpico-airquality/internal/archive"
	"cloudpico-airquality/internal/clock"
	"cloudpico-airquality/internal/config"
	"cloudpico-airquality/internal/cycle"
	"cloudpico-airquality/internal/envsensor"
	"cloudpico-airquality/internal/httpapi"
	"cloudpico-airquality/internal/journal"
	"cloudpico-airquality/internal/metrics"
	"cloudpico-airquality/internal/pms"
	"cloudpico-airquality/internal/recovery"
	"cloudpico-airquality/internal/sampler"
	"cloudpico-airquality/internal/sim"
	"cloudpico-airquality/internal/telemetry"
	"cloudpico-airquality/internal/timesource"
)

const metricsNamespace = "airquality"

var mqttConnectTimeout = 30 * time.Second

// Options carries process identity and the seams tests replace.
type Options struct {
	BootID string
	// Restarter defaults to the one selected by RESTART_MODE.
	Restarter recovery.Restarter
	// TimeSource defaults to the one selected by TIME_SOURCE.
	TimeSource timesource.Source
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Run wires the sensors, time source, telemetry sink and optional journal,
// metrics server and archive schedule, then runs the publish cycle until ctx
// is done or a fault restarts the process.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	logger := slog.Default()
	logger.Info("initializing air quality agent",
		"sensor_driver", cfg.SensorDriver,
		"time_source", cfg.TimeSource,
		"telemetry_sink", cfg.TelemetrySink,
		"publish_interval", cfg.PublishInterval,
		"use_celsius", cfg.UseCelsius,
	)

	restarter := opts.Restarter
	if restarter == nil {
		r, err := recovery.New(cfg.RestartMode, cfg.RestartExitCode)
		if err != nil {
			return err
		}
		restarter = r
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	pm, env, err := openSensors(cfg, &closers)
	if err != nil {
		return err
	}

	client := aio.NewClient(cfg.AIOBaseURL, cfg.Secrets.AIOUser, cfg.Secrets.AIOKey, cfg.AIOTimeout)

	ts := opts.TimeSource
	if ts == nil {
		ts, err = timesource.New(cfg.TimeSource, client, cfg.AIOTimezone)
		if err != nil {
			return err
		}
	}

	collector := metrics.NewCollector(metricsNamespace)

	sink, err := openSink(ctx, cfg, opts.BootID, client, &closers)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fault := recovery.NewFault("telemetry", err)
		logger.Error("telemetry sink unavailable, restarting", "error", err)
		collector.ObserveFault(recovery.OpOf(fault))
		restarter.Restart(fault)
		return fault
	}

	var recorder cycle.Recorder
	if cfg.JournalPath != "" {
		j, db, err := openJournal(ctx, cfg, opts.BootID)
		if err != nil {
			return err
		}
		closers = append(closers, db)
		recorder = j

		if cfg.ArchiveSchedule != "" {
			sched, err := newArchiveSchedule(cfg, j)
			if err != nil {
				return err
			}
			go sched.Run(ctx)
		}
	}

	if cfg.MetricsAddr != "" {
		srv := httpapi.NewServer(cfg.MetricsAddr, httpapi.NewRouter(collector, collector.Registry, logger))
		go func() {
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	smp := sampler.New(pm, clk, sampler.Options{
		Window:       cfg.SampleWindow,
		MaxRetries:   cfg.SampleMaxRetries,
		RetryBackoff: cfg.SampleRetryBackoff,
		SettleDelay:  cfg.SampleSettleDelay,
	}, logger)
	smp.SetObserver(collector)

	var loc *telemetry.Location
	if cfg.Secrets.HasLocation() {
		loc = &telemetry.Location{Lat: *cfg.Secrets.Latitude, Lon: *cfg.Secrets.Longitude}
		if cfg.Secrets.Elevation != nil {
			loc.Ele = *cfg.Secrets.Elevation
		}
	}

	c := cycle.New(cycle.Config{
		Interval:     cfg.PublishInterval,
		PollInterval: cfg.PollInterval,
		Feeds: telemetry.Feeds{
			AQI:         cfg.FeedAQI,
			Category:    cfg.FeedCategory,
			Temperature: cfg.FeedTemperature,
			Humidity:    cfg.FeedHumidity,
		},
		Location: loc,
	}, cycle.Deps{
		Time:      ts,
		Sampler:   smp,
		Env:       envsensor.NewReader(env, cfg.UseCelsius),
		Sink:      sink,
		Restarter: restarter,
		Clock:     clk,
		Recorder:  recorder,
		Observer:  collector,
	}, logger)

	err = c.Run(ctx)
	logger.Info("air quality agent shutting down")
	return err
}

func openSensors(cfg config.Config, closers *[]io.Closer) (sampler.Source, envsensor.Device, error) {
	if cfg.SensorDriver == "sim" {
		slog.Info("using simulated sensors", "pm25", cfg.SimPM25, "fail_every", cfg.SimFailEvery)
		seed := uint64(time.Now().UnixNano())
		return sim.NewPM(cfg.SimPM25, 2, cfg.SimFailEvery, seed), sim.NewEnv(21, 45, 0.5, seed), nil
	}

	pm, err := pms.Open(cfg.PMSPort, cfg.PMSBaud, cfg.PMSReadTimeout)
	if err != nil {
		return nil, nil, err
	}
	*closers = append(*closers, pm)

	bme, err := envsensor.OpenBME280(cfg.BME280Bus, cfg.BME280Address)
	if err != nil {
		return nil, nil, err
	}
	*closers = append(*closers, bme)
	return pm, bme, nil
}

func openSink(ctx context.Context, cfg config.Config, bootID string, client *aio.Client, closers *[]io.Closer) (telemetry.Sink, error) {
	if cfg.TelemetrySink == "adafruitio" {
		return telemetry.NewAdafruitIO(client), nil
	}

	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "cloudpico-airquality-" + shortID(bootID)
	}
	m := telemetry.NewMQTT(telemetry.MQTTConfig{
		Broker:      cfg.MQTTBroker,
		Port:        cfg.MQTTPort,
		ClientID:    clientID,
		Username:    cfg.Secrets.AIOUser,
		Password:    cfg.Secrets.AIOKey,
		TopicPrefix: cfg.Secrets.AIOUser + "/feeds/",
	}, slog.Default())
	*closers = append(*closers, m)

	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := m.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", cfg.MQTTBroker, cfg.MQTTPort, err)
	}
	return m, nil
}

func openJournal(ctx context.Context, cfg config.Config, bootID string) (*journal.Journal, *sql.DB, error) {
	db, err := journal.Open(journal.Options{Path: cfg.JournalPath, LogSQL: cfg.JournalLogSQL}, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	if err := journal.Migrate(ctx, db, slog.Default()); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate journal: %w", err)
	}
	slog.Info("journal opened", "path", cfg.JournalPath)
	return journal.New(db, bootID, slog.Default()), db, nil
}

func newArchiveSchedule(cfg config.Config, j *journal.Journal) (*archive.Schedule, error) {
	gh, err := NewGitHubUploader(cfg)
	if err != nil {
		return nil, err
	}
	return archive.NewSchedule(cfg.ArchiveSchedule, archive.New(j, gh, slog.Default()), 0, slog.Default())
}

// NewGitHubUploader builds the archive target from GITHUB_* settings.
func NewGitHubUploader(cfg config.Config) (*archive.GitHub, error) {
	return archive.NewGitHub(archive.GitHubConfig{
		BaseURL: cfg.GitHubAPIURL,
		Token:   cfg.Secrets.GitHubToken,
		Repo:    cfg.GitHubRepo,
		Path:    cfg.GitHubPath,
		Branch:  cfg.GitHubBranch,
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
