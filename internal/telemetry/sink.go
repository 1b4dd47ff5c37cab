// Package telemetry delivers feed values to the cloud telemetry service.
package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"cloudpico-airquality/internal/aio"
)

// Location is the metadata attached to a data point.
type Location struct {
	Lat float64 `yaml:"latitude"`
	Lon float64 `yaml:"longitude"`
	Ele float64 `yaml:"elevation"`
}

// Sink accepts one feed value per call. loc may be nil.
type Sink interface {
	Send(ctx context.Context, feedKey, value string, loc *Location) error
}

// Feeds names the four feeds a publish writes to.
type Feeds struct {
	AQI         string
	Category    string
	Temperature string
	Humidity    string
}

// DefaultFeeds are the keys of the "airquality-sensors" feed group.
func DefaultFeeds() Feeds {
	return Feeds{
		AQI:         "airquality-sensors.aqi",
		Category:    "airquality-sensors.category",
		Temperature: "airquality-sensors.temperature",
		Humidity:    "airquality-sensors.humidity",
	}
}

// FormatInt and FormatFloat render values the way the feeds store them.
func FormatInt(v int) string { return strconv.Itoa(v) }

func FormatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func dataPoint(value string, loc *Location) aio.DataPoint {
	p := aio.DataPoint{Value: value}
	if loc != nil {
		lat, lon, ele := loc.Lat, loc.Lon, loc.Ele
		p.Lat, p.Lon, p.Ele = &lat, &lon, &ele
	}
	return p
}

// AdafruitIO sends data points over the REST API.
type AdafruitIO struct {
	client *aio.Client
}

func NewAdafruitIO(client *aio.Client) *AdafruitIO {
	return &AdafruitIO{client: client}
}

func (a *AdafruitIO) Send(ctx context.Context, feedKey, value string, loc *Location) error {
	if err := a.client.SendData(ctx, feedKey, dataPoint(value, loc)); err != nil {
		return fmt.Errorf("send %s: %w", feedKey, err)
	}
	return nil
}
