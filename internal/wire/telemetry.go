package wire

import (
	"encoding/binary"
	"fmt"
)

// TelemetryFrameLen is the exact wire size of a TelemetryFrame.
const TelemetryFrameLen = 8

// Button flags carried in TelemetryFrame.Buttons.
const (
	BtnPress uint8 = 1 << iota
	BtnDouble
	BtnLong
	BtnHome
	BtnBack
)

// Input layers. The layer tells the receiver which app context produced
// the frame so it can route joystick gestures accordingly.
const (
	LayerGlobal uint8 = iota
	LayerTextEditor
	LayerCSVEditor
	LayerModifier
	LayerMeshCompose
	LayerMeshInbox
)

// TelemetryFrame is one classified joystick sample. Wire layout is 8 bytes,
// little-endian: x, y, buttons, layer, seq.
type TelemetryFrame struct {
	X       int8   // -100 (left) .. +100 (right)
	Y       int8   // -100 (down) .. +100 (up)
	Buttons uint8  // Btn* bitmask
	Layer   uint8  // Layer* context id
	Seq     uint32 // monotonically increasing per sender
}

// EncodeTelemetry packs a frame into its fixed 8-byte layout.
func EncodeTelemetry(f TelemetryFrame) []byte {
	buf := make([]byte, TelemetryFrameLen)
	buf[0] = byte(f.X)
	buf[1] = byte(f.Y)
	buf[2] = f.Buttons
	buf[3] = f.Layer
	binary.LittleEndian.PutUint32(buf[4:], f.Seq)
	return buf
}

// DecodeTelemetry unpacks an 8-byte telemetry payload. Any other length
// yields ErrMalformedFrame.
func DecodeTelemetry(data []byte) (TelemetryFrame, error) {
	if len(data) != TelemetryFrameLen {
		return TelemetryFrame{}, fmt.Errorf("wire: telemetry payload is %d bytes, want %d: %w",
			len(data), TelemetryFrameLen, ErrMalformedFrame)
	}
	return TelemetryFrame{
		X:       int8(data[0]),
		Y:       int8(data[1]),
		Buttons: data[2],
		Layer:   data[3],
		Seq:     binary.LittleEndian.Uint32(data[4:]),
	}, nil
}

// Heartbeat is the periodic liveness beacon from the partner.
// Wire layout is 5 bytes: uptime_seconds (uint32 LE) + connected flag.
type Heartbeat struct {
	UptimeSeconds uint32
	Connected     bool
}

const heartbeatLen = 5

// EncodeHeartbeat packs a heartbeat into its 5-byte layout.
func EncodeHeartbeat(hb Heartbeat) []byte {
	buf := make([]byte, heartbeatLen)
	binary.LittleEndian.PutUint32(buf, hb.UptimeSeconds)
	if hb.Connected {
		buf[4] = 0x01
	}
	return buf
}

// DecodeHeartbeat unpacks a 5-byte heartbeat payload.
func DecodeHeartbeat(data []byte) (Heartbeat, error) {
	if len(data) != heartbeatLen {
		return Heartbeat{}, fmt.Errorf("wire: heartbeat payload is %d bytes, want %d: %w",
			len(data), heartbeatLen, ErrMalformedFrame)
	}
	return Heartbeat{
		UptimeSeconds: binary.LittleEndian.Uint32(data),
		Connected:     data[4] != 0,
	}, nil
}

const ackLen = 4

// EncodeAck packs a send acknowledgement: the sequence number of the
// request being acknowledged, uint32 little-endian.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, ackLen)
	binary.LittleEndian.PutUint32(buf, seq)
	return buf
}

// DecodeAck unpacks a 4-byte ack payload.
func DecodeAck(data []byte) (uint32, error) {
	if len(data) != ackLen {
		return 0, fmt.Errorf("wire: ack payload is %d bytes, want %d: %w",
			len(data), ackLen, ErrMalformedFrame)
	}
	return binary.LittleEndian.Uint32(data), nil
}
