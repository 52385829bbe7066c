// Package motion reads accelerometer vectors streamed over a UART.
//
// The accelerometer bridge sends 4-byte frames: a 0xA5 sync byte followed
// by signed x, y, z samples. Only the latest vector is kept.
package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// FrameSync starts every frame.
const FrameSync = 0xA5

// Source caches the most recent vector read from r.
type Source struct {
	r      io.Reader
	latest atomic.Uint32
	frames atomic.Uint64
}

// NewSource reads frames from r. Call Run to start.
func NewSource(r io.Reader) *Source {
	return &Source{r: r}
}

// Latest returns the most recent vector, zero before the first frame.
func (s *Source) Latest() [3]byte {
	v := s.latest.Load()
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// Frames returns the number of frames decoded.
func (s *Source) Frames() uint64 {
	return s.frames.Load()
}

// Run decodes frames until ctx is done or the reader fails. Bytes before a
// sync byte are skipped, which resynchronises after a partial frame.
func (s *Source) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	var frame [4]byte
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		got, err := s.r.Read(buf)
		for _, b := range buf[:got] {
			if n == 0 && b != FrameSync {
				continue
			}
			frame[n] = b
			n++
			if n == len(frame) {
				s.latest.Store(uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3]))
				s.frames.Add(1)
				n = 0
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read motion frames: %w", err)
		}
	}
}

// Port is an open serial port feeding a Source.
type Port struct {
	port serial.Port
	*Source
}

// OpenSerial opens the accelerometer bridge at baud, 8N1.
func OpenSerial(path string, baud int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	// A read timeout lets Run notice cancellation on a silent line.
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	log.Info().Str("port", path).Int("baud", baud).Msg("motion: serial port opened")
	return &Port{port: port, Source: NewSource(port)}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	return p.port.Close()
}
