// Package cycle drives the periodic sample-and-publish loop.
//
// The loop is single-threaded: every collaborator call blocks, and the loop
// only yields at the fixed poll sleep. Any fault moves the cycle to
// FaultRestart, hands the fault to the Restarter, and ends Run.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-airquality/internal/aqi"
	"cloudpico-airquality/internal/clock"
	"cloudpico-airquality/internal/envsensor"
	"cloudpico-airquality/internal/recovery"
	"cloudpico-airquality/internal/telemetry"
	"cloudpico-airquality/internal/timesource"
)

const (
	DefaultInterval     = 10
	DefaultPollInterval = 10 * time.Second
)

type Phase int

const (
	AwaitingTick Phase = iota
	Sampling
	Publishing
	FaultRestart
)

func (p Phase) String() string {
	switch p {
	case AwaitingTick:
		return "awaiting_tick"
	case Sampling:
		return "sampling"
	case Publishing:
		return "publishing"
	case FaultRestart:
		return "fault_restart"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the loop's only mutable state. Elapsed counts observed minute
// advances, not wall-clock minutes.
type State struct {
	Elapsed     int
	LastMinute  int
	Interval    int
	Phase       Phase
	LastPublish time.Time
}

// Report is the outcome of one Sampling phase.
type Report struct {
	At   time.Time
	PM25 float64
	AQI  aqi.Result
	Env  envsensor.Reading
}

type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

type EnvReader interface {
	Read(ctx context.Context) (envsensor.Reading, error)
}

// Recorder keeps a local copy of published reports. Its errors are logged,
// never escalated.
type Recorder interface {
	Record(ctx context.Context, r Report) error
}

type Observer interface {
	ObserveTick(s State)
	ObservePublish(r Report)
	ObserveFault(op string)
}

type Config struct {
	Interval     int
	PollInterval time.Duration
	Feeds        telemetry.Feeds
	Location     *telemetry.Location
}

type Deps struct {
	Time      timesource.Source
	Sampler   Sampler
	Env       EnvReader
	Sink      telemetry.Sink
	Restarter recovery.Restarter
	Clock     clock.Clock
	Recorder  Recorder
	Observer  Observer
}

type Cycle struct {
	cfg    Config
	deps   Deps
	state  State
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Cycle {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{
		cfg:    cfg,
		deps:   deps,
		state:  State{Interval: cfg.Interval, Phase: AwaitingTick},
		logger: logger,
	}
}

// State returns a snapshot of the cycle state.
func (c *Cycle) State() State { return c.state }

// Run loops until ctx is done or a fault occurs. A fault is passed to the
// Restarter and then returned.
func (c *Cycle) Run(ctx context.Context) error {
	c.logger.Info("publish cycle started",
		"interval", c.cfg.Interval,
		"poll_interval", c.cfg.PollInterval,
	)
	for {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.fault(err)
			return err
		}
		if err := c.deps.Clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Step runs one AwaitingTick iteration, followed by Sampling and Publishing
// when the interval has elapsed.
func (c *Cycle) Step(ctx context.Context) error {
	c.state.Phase = AwaitingTick

	now, err := c.deps.Time.Now(ctx)
	if err != nil {
		return recovery.NewFault("time", err)
	}
	c.tick(now.Minute())
	if c.deps.Observer != nil {
		c.deps.Observer.ObserveTick(c.state)
	}

	if c.state.Elapsed < c.state.Interval {
		return nil
	}

	c.state.Phase = Sampling
	rep, err := c.sample(ctx, now)
	if err != nil {
		return err
	}

	c.state.Phase = Publishing
	if err := c.publish(ctx, rep); err != nil {
		return recovery.NewFault("telemetry", err)
	}
	c.state.Elapsed = 0
	c.state.LastPublish = now
	c.state.Phase = AwaitingTick

	if c.deps.Observer != nil {
		c.deps.Observer.ObservePublish(rep)
	}
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.Record(ctx, rep); err != nil {
			c.logger.Warn("failed to record report", "error", err)
		}
	}
	return nil
}

// tick applies one observation of the minute of the hour.
func (c *Cycle) tick(minute int) {
	switch {
	case minute == 0:
		if c.state.Elapsed != 0 || c.state.LastMinute != 0 {
			c.logger.Debug("hourly resync", "elapsed", c.state.Elapsed)
		}
		c.state.Elapsed = 0
		c.state.LastMinute = 0
	case minute < c.state.LastMinute:
		// The hour rolled over between polls without minute 0 being seen.
		c.logger.Debug("hourly resync (missed minute 0)", "minute", minute, "last_minute", c.state.LastMinute)
		c.state.Elapsed = 0
		c.state.LastMinute = minute
	case minute > c.state.LastMinute:
		c.state.Elapsed++
		c.state.LastMinute = minute
		c.logger.Info("minute elapsed", "elapsed", c.state.Elapsed, "interval", c.state.Interval)
	}
}

func (c *Cycle) sample(ctx context.Context, now time.Time) (Report, error) {
	c.logger.Info("sampling aqi")
	pm25, err := c.deps.Sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, err
		}
		return Report{}, recovery.NewFault("sample", err)
	}
	result := aqi.Calculate(pm25)
	if !result.Valid() {
		c.logger.Warn("pm2.5 concentration outside the aqi table", "pm25", pm25)
	}
	c.logger.Info("aqi sampled", "pm25", pm25, "aqi", result.Value, "category", result.Category.String())

	c.logger.Info("sampling environmental sensor")
	env, err := c.deps.Env.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, err
		}
		return Report{}, recovery.NewFault("env read", err)
	}
	c.logger.Info("environment sampled",
		"temperature", env.Temperature,
		"unit", string(env.Unit),
		"humidity", env.Humidity,
	)

	return Report{At: now, PM25: pm25, AQI: result, Env: env}, nil
}

// publish sends AQI, category, temperature, humidity, in that order. The
// location rides on the AQI record only.
func (c *Cycle) publish(ctx context.Context, r Report) error {
	c.logger.Info("publishing telemetry")
	f := c.cfg.Feeds
	records := []struct {
		feed  string
		value string
		loc   *telemetry.Location
	}{
		{f.AQI, telemetry.FormatInt(r.AQI.Value), c.cfg.Location},
		{f.Category, r.AQI.Category.String(), nil},
		{f.Temperature, telemetry.FormatFloat(r.Env.Temperature), nil},
		{f.Humidity, telemetry.FormatFloat(r.Env.Humidity), nil},
	}
	for _, rec := range records {
		if err := c.deps.Sink.Send(ctx, rec.feed, rec.value, rec.loc); err != nil {
			return err
		}
	}
	c.logger.Info("published", "aqi", r.AQI.Value, "category", r.AQI.Category.String())
	return nil
}

func (c *Cycle) fault(err error) {
	c.state.Phase = FaultRestart
	op := recovery.OpOf(err)
	c.logger.Error("unrecoverable fault, restarting",
		"op", op,
		"error", err,
		"elapsed", c.state.Elapsed,
	)
	if c.deps.Observer != nil {
		c.deps.Observer.ObserveFault(op)
	}
	if c.deps.Restarter != nil {
		c.deps.Restarter.Restart(err)
	}
}
