// Package envsensor reads temperature and humidity from the environmental
// sensor and converts them to the configured unit.
package envsensor

import (
	"context"

	"cloudpico-airquality/internal/recovery"
)

// Raw is what the sensor reports: Celsius and percent relative humidity.
type Raw struct {
	TemperatureC float64
	HumidityPct  float64
}

// Device is the environmental sensor collaborator.
type Device interface {
	Sense() (Raw, error)
}

// Unit is the temperature unit of a Reading.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// Reading is a converted (temperature, humidity) pair.
type Reading struct {
	Temperature float64
	Unit        Unit
	Humidity    float64
}

type Reader struct {
	dev        Device
	useCelsius bool
}

func NewReader(dev Device, useCelsius bool) *Reader {
	return &Reader{dev: dev, useCelsius: useCelsius}
}

// Read samples the device once. Failures are not retried: they come back as
// a recovery.Fault.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	raw, err := r.dev.Sense()
	if err != nil {
		return Reading{}, recovery.NewFault("env read", err)
	}
	return Convert(raw, r.useCelsius), nil
}

// Convert applies the unit preference; humidity passes through.
func Convert(raw Raw, useCelsius bool) Reading {
	if useCelsius {
		return Reading{Temperature: raw.TemperatureC, Unit: Celsius, Humidity: raw.HumidityPct}
	}
	return Reading{Temperature: raw.TemperatureC*1.8 + 32, Unit: Fahrenheit, Humidity: raw.HumidityPct}
}
