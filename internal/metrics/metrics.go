// Package metrics exposes the publish loop as Prometheus metrics and keeps
// the status snapshot served by the health endpoint.
package metrics

import (
	"sync"
	"time"

	"cloudpico-airquality/internal/cycle"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements sampler.Observer and cycle.Observer.
type Collector struct {
	Registry *prometheus.Registry

	TicksTotal          prometheus.Counter
	PublishesTotal      prometheus.Counter
	SampleReadingsTotal prometheus.Counter
	SampleRetriesTotal  prometheus.Counter
	FaultsTotal         *prometheus.CounterVec

	AQI            prometheus.Gauge
	PM25           prometheus.Gauge
	Temperature    *prometheus.GaugeVec
	Humidity       prometheus.Gauge
	ElapsedMinutes prometheus.Gauge
	LastPublish    prometheus.Gauge
	LastReading    prometheus.Gauge

	mu     sync.RWMutex
	status Status
}

// Status is the latest view of the loop.
type Status struct {
	Phase       string    `json:"phase"`
	Elapsed     int       `json:"elapsed"`
	Interval    int       `json:"interval"`
	LastPublish time.Time `json:"last_publish,omitzero"`
	LastAQI     *int      `json:"last_aqi,omitempty"`
	LastFault   string    `json:"last_fault,omitempty"`
}

// NewCollector registers every metric on a fresh registry, together with the
// Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		Registry: reg,

		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Time source polls.",
		}),
		PublishesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Completed four-feed publishes.",
		}),
		SampleReadingsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_readings_total",
			Help:      "Particulate readings accepted into a sample window.",
		}),
		SampleRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_retries_total",
			Help:      "Failed particulate reads that were retried or exhausted the retry budget.",
		}),
		FaultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults that triggered a restart, by operation.",
		}, []string{"op"}),

		AQI: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aqi",
			Help:      "Last published AQI; -1 when the concentration was outside the table.",
		}),
		PM25: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pm25_ugm3",
			Help:      "Last averaged PM2.5 concentration in µg/m³.",
		}),
		Temperature: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature",
			Help:      "Last published temperature, by unit.",
		}, []string{"unit"}),
		Humidity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last published relative humidity.",
		}),
		ElapsedMinutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_minutes",
			Help:      "Minute advances counted since the last publish.",
		}),
		LastPublish: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last publish.",
		}),
		LastReading: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_ugm3",
			Help:      "Most recent raw PM2.5 reading.",
		}),

		status: Status{Phase: cycle.AwaitingTick.String()},
	}
}

func (c *Collector) ObserveReading(v float64) {
	c.SampleReadingsTotal.Inc()
	c.LastReading.Set(v)
}

func (c *Collector) ObserveRetry() { c.SampleRetriesTotal.Inc() }

func (c *Collector) ObserveTick(s cycle.State) {
	c.TicksTotal.Inc()
	c.ElapsedMinutes.Set(float64(s.Elapsed))

	c.mu.Lock()
	c.status.Phase = s.Phase.String()
	c.status.Elapsed = s.Elapsed
	c.status.Interval = s.Interval
	c.mu.Unlock()
}

func (c *Collector) ObservePublish(r cycle.Report) {
	c.PublishesTotal.Inc()
	c.AQI.Set(float64(r.AQI.Value))
	c.PM25.Set(r.PM25)
	c.Temperature.Reset()
	c.Temperature.WithLabelValues(string(r.Env.Unit)).Set(r.Env.Temperature)
	c.Humidity.Set(r.Env.Humidity)
	c.ElapsedMinutes.Set(0)
	c.LastPublish.Set(float64(r.At.Unix()))

	v := r.AQI.Value
	c.mu.Lock()
	c.status.Elapsed = 0
	c.status.LastPublish = r.At
	c.status.LastAQI = &v
	c.mu.Unlock()
}

func (c *Collector) ObserveFault(op string) {
	c.FaultsTotal.WithLabelValues(op).Inc()

	c.mu.Lock()
	c.status.Phase = cycle.FaultRestart.String()
	c.status.LastFault = op
	c.mu.Unlock()
}

// Status returns a copy of the latest snapshot.
func (c *Collector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	if s.LastAQI != nil {
		v := *s.LastAQI
		s.LastAQI = &v
	}
	return s
}
