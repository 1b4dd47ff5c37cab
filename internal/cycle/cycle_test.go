package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloudpico-airquality/internal/aqi"
	"cloudpico-airquality/internal/clock"
	"cloudpico-airquality/internal/envsensor"
	"cloudpico-airquality/internal/recovery"
	"cloudpico-airquality/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minutes reports the scripted minutes in order, then errors.
type minutes struct {
	seq []int
	err error
	i   int
}

func (m *minutes) Now(context.Context) (time.Time, error) {
	if m.i >= len(m.seq) {
		if m.err != nil {
			return time.Time{}, m.err
		}
		return time.Time{}, errors.New("script exhausted")
	}
	v := m.seq[m.i]
	m.i++
	return time.Date(2024, 5, 1, 12, v, 0, 0, time.UTC), nil
}

type fixedSampler struct {
	v     float64
	err   error
	calls int
}

func (s *fixedSampler) Sample(context.Context) (float64, error) {
	s.calls++
	return s.v, s.err
}

type fixedEnv struct {
	r   envsensor.Reading
	err error
}

func (e fixedEnv) Read(context.Context) (envsensor.Reading, error) { return e.r, e.err }

type sent struct {
	feed  string
	value string
	loc   *telemetry.Location
}

type recordingSink struct {
	sent   []sent
	failAt int // 1-based; 0 never fails
}

func (s *recordingSink) Send(_ context.Context, feed, value string, loc *telemetry.Location) error {
	if s.failAt > 0 && len(s.sent)+1 == s.failAt {
		return errors.New("broker unreachable")
	}
	s.sent = append(s.sent, sent{feed, value, loc})
	return nil
}

type recorder struct {
	reports []Report
	err     error
}

func (r *recorder) Record(_ context.Context, rep Report) error {
	r.reports = append(r.reports, rep)
	return r.err
}

type restarts struct{ reasons []error }

func (r *restarts) Restart(reason error) { r.reasons = append(r.reasons, reason) }

type fixture struct {
	time     *minutes
	sampler  *fixedSampler
	sink     *recordingSink
	recorder *recorder
	restarts *restarts
	clock    *clock.Fake
	loc      *telemetry.Location
	env      EnvReader
}

func newFixture(seq ...int) *fixture {
	return &fixture{
		time:     &minutes{seq: seq},
		sampler:  &fixedSampler{v: 10},
		sink:     &recordingSink{},
		recorder: &recorder{},
		restarts: &restarts{},
		clock:    clock.NewFake(time.Unix(0, 0)),
		loc:      &telemetry.Location{Lat: 40.7, Lon: -74.0, Ele: 10},
		env:      fixedEnv{r: envsensor.Reading{Temperature: 72.5, Unit: envsensor.Fahrenheit, Humidity: 40}},
	}
}

func (f *fixture) cycle(interval int) *Cycle {
	return New(Config{
		Interval:     interval,
		PollInterval: 10 * time.Second,
		Feeds:        telemetry.DefaultFeeds(),
		Location:     f.loc,
	}, Deps{
		Time:      f.time,
		Sampler:   f.sampler,
		Env:       f.env,
		Sink:      f.sink,
		Restarter: f.restarts,
		Clock:     f.clock,
		Recorder:  f.recorder,
	}, nil)
}

func stepN(t *testing.T, c *Cycle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, c.Step(context.Background()))
	}
}

func TestStep_CountsOnlyMinuteAdvances(t *testing.T) {
	f := newFixture(1, 1, 1, 2, 2, 3)
	c := f.cycle(10)
	stepN(t, c, 6)

	st := c.State()
	assert.Equal(t, 3, st.Elapsed)
	assert.Equal(t, 3, st.LastMinute)
	assert.Equal(t, AwaitingTick, st.Phase)
	assert.Empty(t, f.sink.sent)
}

func TestStep_ResetsAtMinuteZero(t *testing.T) {
	f := newFixture(55, 56, 57, 0, 0)
	c := f.cycle(10)
	stepN(t, c, 3)
	require.Equal(t, 3, c.State().Elapsed)

	stepN(t, c, 2)
	st := c.State()
	assert.Equal(t, 0, st.Elapsed)
	assert.Equal(t, 0, st.LastMinute)
}

func TestStep_MissedMinuteZeroResyncs(t *testing.T) {
	f := newFixture(58, 59, 2, 3)
	c := f.cycle(10)
	stepN(t, c, 3)
	assert.Equal(t, 0, c.State().Elapsed)
	assert.Equal(t, 2, c.State().LastMinute)

	stepN(t, c, 1)
	assert.Equal(t, 1, c.State().Elapsed)
}

func TestStep_PublishesInOrderWhenIntervalElapses(t *testing.T) {
	f := newFixture(1, 2, 3)
	c := f.cycle(3)
	stepN(t, c, 2)
	require.Empty(t, f.sink.sent)
	assert.Zero(t, f.sampler.calls)

	stepN(t, c, 1)

	feeds := telemetry.DefaultFeeds()
	require.Len(t, f.sink.sent, 4)
	assert.Equal(t, sent{feeds.AQI, "41", f.loc}, f.sink.sent[0])
	assert.Equal(t, sent{feeds.Category, "Good", nil}, f.sink.sent[1])
	assert.Equal(t, sent{feeds.Temperature, "72.50", nil}, f.sink.sent[2])
	assert.Equal(t, sent{feeds.Humidity, "40.00", nil}, f.sink.sent[3])

	st := c.State()
	assert.Equal(t, 0, st.Elapsed)
	assert.Equal(t, 3, st.LastMinute)
	assert.Equal(t, 3, st.LastPublish.Minute())
	assert.Equal(t, 1, f.sampler.calls)

	require.Len(t, f.recorder.reports, 1)
	rep := f.recorder.reports[0]
	assert.Equal(t, 10.0, rep.PM25)
	assert.Equal(t, aqi.Result{Value: 41, Category: aqi.Good}, rep.AQI)
}

func TestStep_PublishesUndefinedCategory(t *testing.T) {
	f := newFixture(1)
	f.sampler.v = 900
	c := f.cycle(1)
	stepN(t, c, 1)

	require.Len(t, f.sink.sent, 4)
	assert.Equal(t, "-1", f.sink.sent[0].value)
	assert.Equal(t, "Undefined", f.sink.sent[1].value)
}

func TestStep_PublishesEveryInterval(t *testing.T) {
	f := newFixture(1, 2, 3, 4, 5, 6)
	c := f.cycle(2)
	stepN(t, c, 6)
	assert.Len(t, f.sink.sent, 12)
	assert.Len(t, f.recorder.reports, 3)
}

func TestStep_RecorderErrorIsNotFatal(t *testing.T) {
	f := newFixture(1)
	f.recorder.err = errors.New("disk full")
	c := f.cycle(1)
	require.NoError(t, c.Step(context.Background()))
	assert.Len(t, f.sink.sent, 4)
}

func TestStep_TimeSourceErrorIsFault(t *testing.T) {
	f := newFixture()
	f.time.err = errors.New("dns failure")
	c := f.cycle(10)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, recovery.IsFault(err))
	assert.Equal(t, "time", recovery.OpOf(err))
}

func TestStep_SinkErrorIsFaultWithoutReset(t *testing.T) {
	f := newFixture(1, 2)
	f.sink.failAt = 2
	c := f.cycle(2)
	stepN(t, c, 1)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, "telemetry", recovery.OpOf(err))
	assert.Len(t, f.sink.sent, 1)
	assert.Equal(t, 2, c.State().Elapsed)
	assert.Empty(t, f.recorder.reports)
}

func TestStep_SamplerFaultSkipsPublish(t *testing.T) {
	f := newFixture(1)
	f.sampler.err = errors.New("serial timeout")
	c := f.cycle(1)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, "sample", recovery.OpOf(err))
	assert.Empty(t, f.sink.sent)
}

type nackDevice struct{}

func (nackDevice) Sense() (envsensor.Raw, error) { return envsensor.Raw{}, errors.New("i2c nack") }

func TestStep_EnvFaultSkipsPublish(t *testing.T) {
	f := newFixture(1, 2)
	f.env = envsensor.NewReader(nackDevice{}, false)
	c := f.cycle(2)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "env read", recovery.OpOf(err))
	assert.ErrorContains(t, err, "i2c nack")
	assert.Equal(t, FaultRestart, c.State().Phase)
	assert.Equal(t, 2, c.State().Elapsed)
	assert.Equal(t, 1, f.sampler.calls)
	assert.Empty(t, f.sink.sent)
	assert.Empty(t, f.recorder.reports)
	require.Len(t, f.restarts.reasons, 1)
}

func TestRun_FaultTriggersRestart(t *testing.T) {
	f := newFixture(1, 2)
	f.time.err = errors.New("connection refused")
	c := f.cycle(10)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "time", recovery.OpOf(err))
	assert.Equal(t, FaultRestart, c.State().Phase)
	require.Len(t, f.restarts.reasons, 1)
	assert.Equal(t, err, f.restarts.reasons[0])
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, f.clock.Sleeps())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(1, 2, 3)
	c := f.cycle(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.restarts.reasons)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{}, Deps{}, nil)
	assert.Equal(t, DefaultInterval, c.State().Interval)
	assert.Equal(t, DefaultPollInterval, c.cfg.PollInterval)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "awaiting_tick", AwaitingTick.String())
	assert.Equal(t, "fault_restart", FaultRestart.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
