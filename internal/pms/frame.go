// Package pms reads Plantower PMS5003 particulate sensors over a UART.
package pms

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout (big-endian): magic 0x42 0x4D, length uint16 (28), 13 data
// words, checksum uint16 over the preceding 30 bytes. 32 bytes total.
const (
	magic0        = 0x42
	magic1        = 0x4D
	frameLen      = 32
	payloadLen    = 28
	maxHeaderScan = 2 * frameLen
)

var (
	ErrNoHeader = errors.New("pms5003: no frame header")
	ErrBadFrame = errors.New("pms5003: bad frame length")
	ErrChecksum = errors.New("pms5003: checksum mismatch")
	ErrTimeout  = errors.New("pms5003: read timeout")
)

// Frame is one decoded measurement. Std values use the factory CF=1
// calibration, Env values are corrected for atmospheric conditions.
// Concentrations are µg/m³, counts are particles per 0.1 L of air.
type Frame struct {
	PM10Std  uint16
	PM25Std  uint16
	PM100Std uint16
	PM10Env  uint16
	PM25Env  uint16
	PM100Env uint16

	Particles03um  uint16
	Particles05um  uint16
	Particles10um  uint16
	Particles25um  uint16
	Particles50um  uint16
	Particles100um uint16
}

// ParseFrame decodes a complete 32-byte frame.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < frameLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(b))
	}
	if b[0] != magic0 || b[1] != magic1 {
		return Frame{}, fmt.Errorf("%w: got %02X %02X", ErrNoHeader, b[0], b[1])
	}
	if n := binary.BigEndian.Uint16(b[2:4]); n != payloadLen {
		return Frame{}, fmt.Errorf("%w: declared %d", ErrBadFrame, n)
	}
	var sum uint16
	for _, c := range b[:frameLen-2] {
		sum += uint16(c)
	}
	if want := binary.BigEndian.Uint16(b[frameLen-2 : frameLen]); sum != want {
		return Frame{}, fmt.Errorf("%w: computed %04X, frame says %04X", ErrChecksum, sum, want)
	}

	w := func(i int) uint16 { return binary.BigEndian.Uint16(b[4+2*i:]) }
	return Frame{
		PM10Std:        w(0),
		PM25Std:        w(1),
		PM100Std:       w(2),
		PM10Env:        w(3),
		PM25Env:        w(4),
		PM100Env:       w(5),
		Particles03um:  w(6),
		Particles05um:  w(7),
		Particles10um:  w(8),
		Particles25um:  w(9),
		Particles50um:  w(10),
		Particles100um: w(11),
	}, nil
}

// Reader decodes frames from a byte stream, resynchronising on the header.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4*frameLen)}
}

// Reset discards buffered bytes and reads from r from now on.
func (r *Reader) Reset(src io.Reader) { r.br.Reset(src) }

// ReadFrame scans for the next header and decodes the frame that follows.
// Every error is transient; callers may simply try again.
func (r *Reader) ReadFrame() (Frame, error) {
	if err := r.seekHeader(); err != nil {
		return Frame{}, err
	}
	buf := make([]byte, frameLen)
	buf[0], buf[1] = magic0, magic1
	if _, err := io.ReadFull(r.br, buf[2:]); err != nil {
		return Frame{}, fmt.Errorf("pms5003: read frame: %w", err)
	}
	return ParseFrame(buf)
}

func (r *Reader) seekHeader() error {
	prev := byte(0)
	for range maxHeaderScan {
		c, err := r.br.ReadByte()
		if err != nil {
			return fmt.Errorf("pms5003: read header: %w", err)
		}
		if prev == magic0 && c == magic1 {
			return nil
		}
		prev = c
	}
	return ErrNoHeader
}
