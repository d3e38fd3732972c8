package link

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oddforge/wristlink/internal/bridge"
	"github.com/oddforge/wristlink/internal/wire"
)

// Periodic duty intervals for the Host. The intervals are independent;
// none is chained to another's firing.
const (
	HeartbeatInterval = 2 * time.Second
	StatusInterval    = 30 * time.Second
	NodeListInterval  = 60 * time.Second
)

// knownChars is the set of channels the Host serves. Subscription changes
// for anything else are ignored.
var knownChars = map[string]bool{
	wire.TelemetryCharUUID:  true,
	wire.MeshInboxCharUUID:  true,
	wire.MeshSendCharUUID:   true,
	wire.MeshStatusCharUUID: true,
	wire.NodeListCharUUID:   true,
	wire.AckCharUUID:        true,
	wire.HeartbeatCharUUID:  true,
}

// Host runs the peripheral role on the partner device: advertise identity,
// accept the main device's connection, relay bridge traffic to it, and
// accept its mesh send requests.
type Host struct {
	p      Peripheral
	bridge *bridge.Bridge
	name   string

	mu          sync.Mutex
	started     bool
	advertising bool
	connected   bool
	subs        map[string]bool
	startTime   time.Time
	lastBeat    time.Time
	lastStatus  time.Time
	lastNodes   time.Time

	onConnect func(connected bool)
}

// NewHost wires a Host to its peripheral adapter and bridge. The bridge's
// inbox and status sinks are claimed by the Host; register application
// callbacks on the Host, not the bridge.
func NewHost(p Peripheral, br *bridge.Bridge, name string) *Host {
	if name == "" {
		name = wire.DeviceName
	}
	h := &Host{
		p:      p,
		bridge: br,
		name:   name,
		subs:   make(map[string]bool),
	}

	p.OnConnectionChange(h.handleConnectionChange)
	p.OnSubscriptionChange(h.handleSubscriptionChange)
	p.OnWrite(wire.MeshSendCharUUID, h.handleSendWrite)

	br.OnInbox(h.forwardInbox)
	br.OnStatus(h.forwardStatus)
	return h
}

// OnConnect registers a callback fired on main-device connect/disconnect.
func (h *Host) OnConnect(fn func(connected bool)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// Start begins advertising. Idempotent: calling while already advertising
// or connected is a no-op.
func (h *Host) Start() error {
	h.mu.Lock()
	if h.connected || h.advertising {
		h.mu.Unlock()
		return nil
	}
	if !h.started {
		h.started = true
		h.startTime = time.Now()
	}
	h.advertising = true
	h.mu.Unlock()

	if err := h.p.StartAdvertising(h.name); err != nil {
		h.mu.Lock()
		h.advertising = false
		h.mu.Unlock()
		return fmt.Errorf("link: start advertising: %w", err)
	}
	slog.Info("[host] advertising", "name", h.name)
	return nil
}

// Connected reports whether the main device is connected.
func (h *Host) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Subscribed reports whether the peer enabled notifications on a channel.
func (h *Host) Subscribed(charUUID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[charUUID]
}

// SendTelemetry pushes a telemetry frame to the main device. Frames are
// dropped silently while disconnected or unsubscribed; telemetry has no
// delivery guarantee beyond at-most-once.
func (h *Host) SendTelemetry(frame wire.TelemetryFrame) {
	h.mu.Lock()
	ok := h.connected && h.subs[wire.TelemetryCharUUID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := h.p.Notify(wire.TelemetryCharUUID, wire.EncodeTelemetry(frame)); err != nil {
		slog.Debug("[host] telemetry notify failed", "error", err)
	}
}

// Tick drives the periodic duties. Call it at a coarse cadence (500ms is
// plenty); each duty tracks its own interval and runs only while connected.
// While disconnected, Tick retries advertising if a resume attempt failed.
func (h *Host) Tick(now time.Time) {
	h.mu.Lock()
	if !h.connected {
		retry := h.started && !h.advertising
		h.mu.Unlock()
		if retry {
			if err := h.Start(); err != nil {
				slog.Warn("[host] advertising retry failed", "error", err)
			}
		}
		return
	}
	beat := now.Sub(h.lastBeat) >= HeartbeatInterval
	if beat {
		h.lastBeat = now
	}
	status := now.Sub(h.lastStatus) >= StatusInterval
	if status {
		h.lastStatus = now
	}
	nodes := now.Sub(h.lastNodes) >= NodeListInterval
	if nodes {
		h.lastNodes = now
	}
	uptime := uint32(now.Sub(h.startTime) / time.Second)
	h.mu.Unlock()

	if beat {
		hb := wire.EncodeHeartbeat(wire.Heartbeat{UptimeSeconds: uptime, Connected: true})
		if err := h.p.Notify(wire.HeartbeatCharUUID, hb); err != nil {
			slog.Debug("[host] heartbeat notify failed", "error", err)
		}
	}
	if status {
		if st, ok := h.bridge.Status(); ok {
			h.forwardStatus(st)
		}
	}
	if nodes {
		h.publishNodeList()
	}
}

// PublishNodeList refreshes the node list channel from the bridge's table.
func (h *Host) PublishNodeList() { h.publishNodeList() }

func (h *Host) publishNodeList() {
	data, err := wire.EncodeNodeList(h.bridge.Nodes())
	if err != nil {
		slog.Warn("[host] node list encode failed", "error", err)
		return
	}
	h.p.SetValue(wire.NodeListCharUUID, data)
}

// AckSend indicates completion of a send request back to the main device.
func (h *Host) AckSend(seq uint32) {
	h.mu.Lock()
	connected := h.connected
	h.mu.Unlock()
	if !connected {
		return
	}
	if err := h.p.Indicate(wire.AckCharUUID, wire.EncodeAck(seq)); err != nil {
		slog.Warn("[host] ack indicate failed", "seq", seq, "error", err)
	}
}

func (h *Host) handleConnectionChange(connected bool) {
	h.mu.Lock()
	h.connected = connected
	h.subs = make(map[string]bool)
	if connected {
		h.advertising = false
		// stagger nothing: first Tick after connect fires every duty
		h.lastBeat = time.Time{}
		h.lastStatus = time.Time{}
		h.lastNodes = time.Time{}
	}
	fn := h.onConnect
	h.mu.Unlock()

	if connected {
		slog.Info("[host] main device connected")
		h.p.StopAdvertising()
	} else {
		slog.Info("[host] main device disconnected, resuming advertising")
		h.mu.Lock()
		h.advertising = true
		h.mu.Unlock()
		if err := h.p.StartAdvertising(h.name); err != nil {
			slog.Warn("[host] resume advertising failed", "error", err)
			h.mu.Lock()
			h.advertising = false
			h.mu.Unlock()
		}
	}
	if fn != nil {
		fn(connected)
	}
}

func (h *Host) handleSubscriptionChange(charUUID string, enabled bool) {
	if !knownChars[charUUID] {
		slog.Warn("[host] subscription change on unknown channel ignored", "char", charUUID)
		return
	}
	h.mu.Lock()
	h.subs[charUUID] = enabled
	h.mu.Unlock()
	slog.Debug("[host] subscription change", "char", charUUID, "enabled", enabled)
}

// handleSendWrite decodes a send-channel write and hands it to the bridge.
// Malformed writes are dropped with a log line; no ack is produced.
func (h *Host) handleSendWrite(data []byte) {
	req, err := wire.DecodeMeshSend(data)
	if err != nil {
		slog.Warn("[host] dropping malformed send request", "error", err)
		return
	}
	if err := h.bridge.QueueSend(req); err != nil {
		slog.Warn("[host] send request not queued", "seq", req.Seq, "error", err)
		return
	}
	h.AckSend(req.Seq)
}

// forwardInbox relays an ingested mesh message to the main device.
func (h *Host) forwardInbox(msg wire.MeshMessage) {
	h.mu.Lock()
	ok := h.connected
	h.mu.Unlock()
	if !ok {
		return
	}
	data, err := wire.EncodeMeshMessage(msg)
	if err != nil {
		slog.Warn("[host] inbox encode failed", "error", err)
		return
	}
	if err := h.p.Notify(wire.MeshInboxCharUUID, data); err != nil {
		slog.Debug("[host] inbox notify failed", "error", err)
	}
}

// forwardStatus relays a status snapshot and refreshes the readable value.
func (h *Host) forwardStatus(st wire.MeshStatus) {
	data, err := wire.EncodeMeshStatus(st)
	if err != nil {
		slog.Warn("[host] status encode failed", "error", err)
		return
	}
	h.p.SetValue(wire.MeshStatusCharUUID, data)

	h.mu.Lock()
	ok := h.connected
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := h.p.Notify(wire.MeshStatusCharUUID, data); err != nil {
		slog.Debug("[host] status notify failed", "error", err)
	}
}
