package envsensor

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280 is a Bosch BME280 on an I2C bus, driven through periph.io.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 initialises the host drivers and opens the device at addr on
// busName ("" selects the default bus, usually /dev/i2c-1).
func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02X: %w", addr, err)
	}
	slog.Info("bme280 opened", "bus", bus.String(), "address", fmt.Sprintf("0x%02X", addr))
	return &BME280{bus: bus, dev: dev}, nil
}

// Sense takes one forced measurement.
func (b *BME280) Sense() (Raw, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Raw{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return Raw{
		TemperatureC: env.Temperature.Celsius(),
		// physic.RelativeHumidity is fixed point at 0.00001 %rH.
		HumidityPct: float64(env.Humidity) / float64(physic.PercentRH),
	}, nil
}

func (b *BME280) Close() error {
	haltErr := b.dev.Halt()
	if err := b.bus.Close(); err != nil {
		return err
	}
	return haltErr
}
