// Package timesource provides the wall-clock time the publish cycle counts
// minutes against.
package timesource

import (
	"context"
	"fmt"
	"time"

	"cloudpico-airquality/internal/aio"
)

// Source reports the current time. Network-backed sources may fail.
type Source interface {
	Now(ctx context.Context) (time.Time, error)
}

// System reads the host clock.
type System struct{}

func (System) Now(context.Context) (time.Time, error) { return time.Now(), nil }

// AdafruitIO asks the Adafruit IO time integration, matching the device's
// configured zone rather than the host's.
type AdafruitIO struct {
	client *aio.Client
	tz     string
	loc    *time.Location
}

// NewAdafruitIO returns a Source for tz ("" leaves the zone to the account
// setting and reports times as UTC wall values).
func NewAdafruitIO(client *aio.Client, tz string) (*AdafruitIO, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	return &AdafruitIO{client: client, tz: tz, loc: loc}, nil
}

func (a *AdafruitIO) Now(ctx context.Context) (time.Time, error) {
	ts, err := a.client.ReceiveTime(ctx, a.tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("receive time: %w", err)
	}
	return ts.Time(a.loc), nil
}

// New builds the source named kind ("system" or "adafruitio").
func New(kind string, client *aio.Client, tz string) (Source, error) {
	switch kind {
	case "system":
		return System{}, nil
	case "adafruitio":
		return NewAdafruitIO(client, tz)
	default:
		return nil, fmt.Errorf("unknown time source %q (allowed: system, adafruitio)", kind)
	}
}
