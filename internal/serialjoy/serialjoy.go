// Package serialjoy reads classified telemetry frames from the partner's
// input board over USB serial. The board streams the same packed 8-byte
// frame used on the notify channel, with no sync marker; the reader
// realigns by validating field ranges.
package serialjoy

import (
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"

	"github.com/oddforge/wristlink/internal/wire"
)

// frame byte layout: x int8, y int8, buttons uint8, layer uint8,
// seq uint32 LE. Identical to wire.TelemetryFrame.
const frameLen = wire.TelemetryFrameLen

const buttonMask = wire.BtnPress | wire.BtnDouble | wire.BtnLong | wire.BtnHome | wire.BtnBack

// Reader decodes the telemetry stream. Not safe for concurrent use.
type Reader struct {
	r   io.ReadCloser
	buf []byte

	lastSeq uint32
	haveSeq bool
}

// Open opens the serial port and wraps it in a Reader.
func Open(port string, baud int) (*Reader, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialjoy: open %s: %w", port, err)
	}
	return New(p), nil
}

// New wraps an existing stream, usually a serial port.
func New(r io.ReadCloser) *Reader {
	return &Reader{r: r, buf: make([]byte, 0, 2*frameLen)}
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.r.Close()
}

// Next blocks until a valid frame arrives and returns it. Bytes that do
// not line up as a valid frame are discarded one at a time until the
// stream realigns.
func (r *Reader) Next() (wire.TelemetryFrame, error) {
	for {
		for len(r.buf) < frameLen {
			if err := r.fill(); err != nil {
				return wire.TelemetryFrame{}, err
			}
		}

		frame, err := wire.DecodeTelemetry(r.buf[:frameLen])
		if err != nil || !plausible(frame) {
			// resync: drop one byte and try again
			r.buf = r.buf[1:]
			continue
		}
		r.buf = r.buf[frameLen:]

		if r.haveSeq {
			if gap := frame.Seq - r.lastSeq; gap > 1 {
				slog.Debug("[serialjoy] dropped frames", "count", gap-1)
			}
		}
		r.lastSeq = frame.Seq
		r.haveSeq = true
		return frame, nil
	}
}

func (r *Reader) fill() error {
	chunk := make([]byte, 64)
	n, err := r.r.Read(chunk)
	if n > 0 {
		r.buf = append(r.buf, chunk[:n]...)
	}
	if err != nil {
		if err == io.EOF && n > 0 {
			return nil
		}
		return fmt.Errorf("serialjoy: read: %w", err)
	}
	return nil
}

// plausible checks field ranges; the stream has no sync marker, so this is
// what realignment leans on.
func plausible(f wire.TelemetryFrame) bool {
	if f.X < -100 || f.X > 100 || f.Y < -100 || f.Y > 100 {
		return false
	}
	if f.Buttons&^uint8(buttonMask) != 0 {
		return false
	}
	return f.Layer <= wire.LayerMeshInbox
}
