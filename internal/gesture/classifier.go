// Package gesture turns raw joystick samples into telemetry frames. It
// normalizes the axes, runs press/double-press/long-press edge detection,
// and decides when a frame is worth sending.
package gesture

import (
	"time"

	"github.com/oddforge/wristlink/internal/wire"
)

// Sample is one raw reading from the input hardware. Axis values are ADC
// counts; buttons are debounced logic levels (true = pressed).
type Sample struct {
	RawX      int
	RawY      int
	JoyButton bool
	Home      bool
	Back      bool
}

// Config holds the calibration and timing knobs for the classifier.
type Config struct {
	Center            int           // raw value at rest
	Deadzone          int           // raw counts collapsed to zero around Center
	InvertX           bool
	InvertY           bool
	LongPress         time.Duration // hold time before the long-press flag fires
	DoublePressWindow time.Duration // max gap between rising edges for a double press
	AxisHysteresis    int           // normalized units of movement before a resend
	KeepAlive         time.Duration // max silence before a frame is forced out
}

// DefaultConfig returns the calibration for the stock 12-bit joystick.
func DefaultConfig() Config {
	return Config{
		Center:            2048,
		Deadzone:          164, // ~8% of center
		InvertY:           true,
		LongPress:         700 * time.Millisecond,
		DoublePressWindow: 300 * time.Millisecond,
		AxisHysteresis:    2,
		KeepAlive:         100 * time.Millisecond,
	}
}

// Classifier is a per-tick state machine. It is not safe for concurrent
// use; drive it from a single sampling loop.
type Classifier struct {
	cfg   Config
	layer uint8
	seq   uint32

	// button edge state
	wasPressed    bool
	downTime      time.Time
	lastRiseTime  time.Time
	pressCount    int
	longTriggered bool

	// change detection
	sent     bool
	lastSent wire.TelemetryFrame
	lastTime time.Time
}

// New creates a classifier. Zero-value durations and calibration fields in
// cfg fall back to DefaultConfig values.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.Center == 0 {
		cfg.Center = def.Center
	}
	if cfg.Deadzone == 0 {
		cfg.Deadzone = def.Deadzone
	}
	if cfg.LongPress == 0 {
		cfg.LongPress = def.LongPress
	}
	if cfg.DoublePressWindow == 0 {
		cfg.DoublePressWindow = def.DoublePressWindow
	}
	if cfg.AxisHysteresis == 0 {
		cfg.AxisHysteresis = def.AxisHysteresis
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	return &Classifier{cfg: cfg}
}

// SetLayer switches the context layer carried in subsequent frames.
// Unknown layers are ignored.
func (c *Classifier) SetLayer(layer uint8) {
	if layer <= wire.LayerMeshInbox {
		c.layer = layer
	}
}

// Layer returns the current context layer.
func (c *Classifier) Layer() uint8 { return c.layer }

// Tick classifies one sample. The returned frame is valid only when the
// second result is true, meaning the frame should be sent now. Tick never
// fails; out-of-range input is clamped.
func (c *Classifier) Tick(s Sample, now time.Time) (wire.TelemetryFrame, bool) {
	frame := wire.TelemetryFrame{
		X:     c.normalize(s.RawX, c.cfg.InvertX),
		Y:     c.normalize(s.RawY, c.cfg.InvertY),
		Layer: c.layer,
	}
	frame.Buttons = c.classifyButtons(s, now)

	if !c.shouldSend(frame, now) {
		return wire.TelemetryFrame{}, false
	}

	c.seq++
	frame.Seq = c.seq
	c.lastSent = frame
	c.lastTime = now
	c.sent = true
	return frame, true
}

// normalize maps a raw axis reading to -100..100 with the deadzone
// collapsed to zero and subtracted from the active range.
func (c *Classifier) normalize(raw int, invert bool) int8 {
	centered := raw - c.cfg.Center
	if abs(centered) < c.cfg.Deadzone {
		return 0
	}
	if centered > 0 {
		centered -= c.cfg.Deadzone
	} else {
		centered += c.cfg.Deadzone
	}
	n := centered * 100 / (c.cfg.Center - c.cfg.Deadzone)
	if n > 100 {
		n = 100
	}
	if n < -100 {
		n = -100
	}
	if invert {
		n = -n
	}
	return int8(n)
}

func (c *Classifier) classifyButtons(s Sample, now time.Time) uint8 {
	var buttons uint8

	if s.JoyButton && !c.wasPressed {
		// rising edge
		c.downTime = now
		c.longTriggered = false
		if now.Sub(c.lastRiseTime) < c.cfg.DoublePressWindow {
			c.pressCount++
		} else {
			c.pressCount = 1
		}
		c.lastRiseTime = now
	}

	if s.JoyButton {
		buttons |= wire.BtnPress
		if !c.longTriggered && now.Sub(c.downTime) > c.cfg.LongPress {
			buttons |= wire.BtnLong
			c.longTriggered = true
		}
	}

	// double press fires on the release of the second press
	if !s.JoyButton && c.wasPressed && c.pressCount >= 2 {
		buttons |= wire.BtnDouble
		c.pressCount = 0
	}

	c.wasPressed = s.JoyButton

	if s.Home {
		buttons |= wire.BtnHome
	}
	if s.Back {
		buttons |= wire.BtnBack
	}
	return buttons
}

func (c *Classifier) shouldSend(frame wire.TelemetryFrame, now time.Time) bool {
	if !c.sent {
		return true
	}
	if frame.Buttons != c.lastSent.Buttons {
		return true
	}
	if abs(int(frame.X)-int(c.lastSent.X)) > c.cfg.AxisHysteresis {
		return true
	}
	if abs(int(frame.Y)-int(c.lastSent.Y)) > c.cfg.AxisHysteresis {
		return true
	}
	if frame.Layer != c.lastSent.Layer {
		return true
	}
	// keep-alive so the receiver can tell a quiet link from a dead one
	return now.Sub(c.lastTime) >= c.cfg.KeepAlive
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
