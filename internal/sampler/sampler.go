// Package sampler averages noisy particulate readings over a short window.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-airquality/internal/clock"
	"cloudpico-airquality/internal/recovery"
)

const (
	DefaultWindow       = 2300 * time.Millisecond
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 100 * time.Millisecond
	// DefaultSettleDelay follows the sensor's own output rate.
	DefaultSettleDelay = 3 * time.Second
)

var (
	ErrRetriesExhausted = errors.New("sensor retries exhausted")
	ErrNoReadings       = errors.New("no readings in sample window")
)

// Source yields one raw PM2.5 concentration per call. Errors are transient
// and retried within the window.
type Source interface {
	ReadPM25(ctx context.Context) (float64, error)
}

// Observer is notified of every reading and every failed attempt.
type Observer interface {
	ObserveReading(v float64)
	ObserveRetry()
}

type Options struct {
	Window       time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	SettleDelay  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	return o
}

// DefaultOptions returns the production window and retry policy.
func DefaultOptions() Options {
	return Options{
		Window:       DefaultWindow,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
		SettleDelay:  DefaultSettleDelay,
	}
}

type Sampler struct {
	src      Source
	clk      clock.Clock
	opts     Options
	observer Observer
	logger   *slog.Logger
}

func New(src Source, clk clock.Clock, opts Options, logger *slog.Logger) *Sampler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{src: src, clk: clk, opts: opts.withDefaults(), logger: logger}
}

// SetObserver attaches o; nil detaches.
func (s *Sampler) SetObserver(o Observer) { s.observer = o }

// Sample collects readings until the window closes and returns their mean.
// Exhausting the retry budget or closing the window empty yields a
// recovery.Fault; no partial average is ever returned.
func (s *Sampler) Sample(ctx context.Context) (float64, error) {
	var (
		window   []float64
		failures int
	)
	start := s.clk.Now()
	for s.clk.Now().Sub(start) <= s.opts.Window {
		v, err := s.src.ReadPM25(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			failures++
			if s.observer != nil {
				s.observer.ObserveRetry()
			}
			s.logger.Warn("unable to read from particulate sensor, retrying",
				"attempt", failures,
				"max_retries", s.opts.MaxRetries,
				"error", err,
			)
			if failures >= s.opts.MaxRetries {
				return 0, recovery.NewFault("sample",
					fmt.Errorf("%w: %d consecutive failures: %w", ErrRetriesExhausted, failures, err))
			}
			if err := s.clk.Sleep(ctx, s.opts.RetryBackoff); err != nil {
				return 0, err
			}
			continue
		}
		failures = 0
		window = append(window, v)
		if s.observer != nil {
			s.observer.ObserveReading(v)
		}
		s.logger.Debug("particulate reading", "pm25", v, "n", len(window))
		if err := s.clk.Sleep(ctx, s.opts.SettleDelay); err != nil {
			return 0, err
		}
	}

	if len(window) == 0 {
		return 0, recovery.NewFault("sample", ErrNoReadings)
	}
	return mean(window), nil
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
