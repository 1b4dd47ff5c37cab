// Package sim provides simulated particulate and environmental sensors for
// running the agent on a host without the hardware attached.
package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"cloudpico-airquality/internal/envsensor"
)

var ErrSimulatedFailure = errors.New("sim: simulated read failure")

// PM simulates a PMS5003: Base ± Jitter µg/m³, failing every FailEvery-th
// read when FailEvery > 0.
type PM struct {
	Base      float64
	Jitter    float64
	FailEvery int

	mu    sync.Mutex
	rng   *rand.Rand
	reads int
}

func NewPM(base, jitter float64, failEvery int, seed uint64) *PM {
	return &PM{
		Base:      base,
		Jitter:    jitter,
		FailEvery: failEvery,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

func (p *PM) ReadPM25(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.FailEvery > 0 && p.reads%p.FailEvery == 0 {
		return 0, ErrSimulatedFailure
	}
	v := p.Base + (p.rng.Float64()*2-1)*p.Jitter
	if v < 0 {
		v = 0
	}
	// The real sensor reports whole µg/m³.
	return float64(int(v)), nil
}

// Env simulates a BME280 around fixed Celsius temperature and humidity.
type Env struct {
	TemperatureC float64
	HumidityPct  float64
	Jitter       float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEnv(tempC, humidity, jitter float64, seed uint64) *Env {
	return &Env{
		TemperatureC: tempC,
		HumidityPct:  humidity,
		Jitter:       jitter,
		rng:          rand.New(rand.NewPCG(seed, seed+1)),
	}
}

func (e *Env) Sense() (envsensor.Raw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.HumidityPct + (e.rng.Float64()*2-1)*e.Jitter
	h = min(max(h, 0), 100)
	return envsensor.Raw{
		TemperatureC: e.TemperatureC + (e.rng.Float64()*2-1)*e.Jitter,
		HumidityPct:  h,
	}, nil
}
