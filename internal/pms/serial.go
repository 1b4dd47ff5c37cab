package pms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

const DefaultBaudRate = 9600

// Sensor is a PMS5003 attached to a serial port in active mode.
type Sensor struct {
	name string
	port serial.Port
	r    *Reader
}

// Open opens the UART and prepares frame decoding. timeout bounds every
// blocking read on the port.
func Open(name string, baud int, timeout time.Duration) (*Sensor, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	slog.Info("pms5003 opened", "port", name, "baud", baud, "read_timeout", timeout)
	return &Sensor{name: name, port: port, r: NewReader(timeoutReader{port})}, nil
}

// Read returns the next complete frame. Buffered frames are dropped first so
// the result reflects the air now, not whenever the buffer last drained.
func (s *Sensor) Read() (Frame, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return Frame{}, fmt.Errorf("reset input buffer on %s: %w", s.name, err)
	}
	s.r.Reset(timeoutReader{s.port})
	return s.r.ReadFrame()
}

// ReadPM25 reports the atmospheric PM2.5 concentration.
func (s *Sensor) ReadPM25(context.Context) (float64, error) {
	f, err := s.Read()
	if err != nil {
		return 0, err
	}
	return float64(f.PM25Env), nil
}

func (s *Sensor) Close() error {
	return s.port.Close()
}

// timeoutReader turns the (0, nil) a serial read returns on timeout into
// ErrTimeout, so bufio does not spin on empty reads.
type timeoutReader struct {
	port serial.Port
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}
