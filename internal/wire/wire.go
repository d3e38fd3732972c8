// Package wire implements the message codec for the partner link: the
// fixed-layout telemetry, heartbeat and ack frames, and the CBOR-encoded
// mesh relay payloads. Every payload fits in a single BLE notification.
package wire

import "errors"

// DeviceName is the name the partner advertises and the central scans for.
const DeviceName = "TransPartner"

// Remote Input service
const (
	RemoteInputServiceUUID = "4f9a0001-8c3f-4a0e-89a7-6d277cf9a000"
	TelemetryCharUUID      = "4f9a0002-8c3f-4a0e-89a7-6d277cf9a000"
)

// Command & Sync service
const (
	CommandSyncServiceUUID = "4f9a0020-8c3f-4a0e-89a7-6d277cf9a000"
	AckCharUUID            = "4f9a0022-8c3f-4a0e-89a7-6d277cf9a000"
	HeartbeatCharUUID      = "4f9a0023-8c3f-4a0e-89a7-6d277cf9a000"
)

// Mesh Relay service
const (
	MeshRelayServiceUUID = "4f9a0030-8c3f-4a0e-89a7-6d277cf9a000"
	MeshInboxCharUUID    = "4f9a0031-8c3f-4a0e-89a7-6d277cf9a000"
	MeshSendCharUUID     = "4f9a0032-8c3f-4a0e-89a7-6d277cf9a000"
	MeshStatusCharUUID   = "4f9a0033-8c3f-4a0e-89a7-6d277cf9a000"
	NodeListCharUUID     = "4f9a0034-8c3f-4a0e-89a7-6d277cf9a000"
)

// MaxPayloadLen is the largest payload any encoder may produce. It must fit
// a single notification on a 247-byte MTU link after the 3-byte ATT header.
const MaxPayloadLen = 244

// Field bounds for mesh payloads. Strings longer than their bound are
// truncated on encode, never rejected.
const (
	MaxTextLen   = 237 // mesh message body
	MaxNodeIDLen = 11  // "!" + 8 hex digits fits with room to spare
	MaxNameLen   = 31  // node display names and channel names
)

var (
	// ErrMalformedFrame reports a decode failure: wrong length or
	// structurally invalid payload.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrMessageTooLarge reports a payload that cannot be made to fit the
	// transport ceiling even after text truncation.
	ErrMessageTooLarge = errors.New("wire: message too large")
)
