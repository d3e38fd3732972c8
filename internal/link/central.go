package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oddforge/wristlink/internal/bridge"
	"github.com/oddforge/wristlink/internal/wire"
)

var (
	// ErrNotConnected reports an operation that requires the Ready state.
	ErrNotConnected = errors.New("link: not connected")

	// ErrDiscoveryFailed reports an absent expected service or
	// characteristic. It is handled internally by rescanning and only
	// surfaces in logs.
	ErrDiscoveryFailed = errors.New("link: discovery failed")
)

// State is the connection-lifecycle state of the Manager.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateSubscribing
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateDiscoveringCharacteristics:
		return "discovering-characteristics"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// notifying characteristics the manager subscribes to, and the full set it
// must discover before the link is usable.
var subscribedChars = []string{
	wire.TelemetryCharUUID,
	wire.MeshInboxCharUUID,
	wire.MeshStatusCharUUID,
	wire.AckCharUUID,
	wire.HeartbeatCharUUID,
}

var requiredChars = map[string][]string{
	wire.RemoteInputServiceUUID: {wire.TelemetryCharUUID},
	wire.MeshRelayServiceUUID: {
		wire.MeshInboxCharUUID,
		wire.MeshSendCharUUID,
		wire.MeshStatusCharUUID,
		wire.NodeListCharUUID,
	},
	wire.CommandSyncServiceUUID: {wire.AckCharUUID, wire.HeartbeatCharUUID},
}

// Options configures the Manager's timing.
type Options struct {
	DeviceName     string        // advertised name to scan for
	ScanTimeout    time.Duration // per scan cycle
	ConnectTimeout time.Duration
	RescanDelay    time.Duration // pause before restarting a failed scan
}

// DefaultOptions returns the stock timing.
func DefaultOptions() Options {
	return Options{
		DeviceName:     wire.DeviceName,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		RescanDelay:    2 * time.Second,
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evDeviceFound
	evScanFailed
	evConnected
	evConnectFailed
	evServicesFound
	evCharsFound
	evDiscoveryFailed
	evSubscribed
	evDisconnected
	evNotify
)

// event is one input to the state machine. All transitions run on a single
// goroutine, so state is never touched concurrently.
type event struct {
	kind     eventKind
	device   Device
	conn     Connection
	services map[string]Service
	chars    map[string]Characteristic
	char     string
	data     []byte
	err      error
}

// Manager runs the central role: scan, connect, discover, subscribe, and
// dispatch decoded frames to per-kind subscriber callbacks. Exactly one
// partner connection is maintained at a time.
type Manager struct {
	adapter Adapter
	opts    Options
	bridge  *bridge.Bridge

	events chan event
	done   chan struct{}
	stop   sync.Once

	seq atomic.Uint32

	mu    sync.Mutex
	state State
	conn  Connection
	chars map[string]Characteristic

	onTelemetry    func(wire.TelemetryFrame)
	onHeartbeat    func(wire.Heartbeat)
	onSendComplete func(seq uint32, success bool)
	onStateChange  func(State)
}

// NewManager creates a Manager over the given adapter. Zero-value fields
// in opts fall back to DefaultOptions.
func NewManager(adapter Adapter, opts Options) *Manager {
	def := DefaultOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = def.RescanDelay
	}
	m := &Manager{
		adapter: adapter,
		opts:    opts,
		bridge:  bridge.New(nil),
		events:  make(chan event, 32),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	go m.run()
	return m
}

// Start powers on the adapter and begins scanning for the partner.
func (m *Manager) Start() error {
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("link: enable adapter: %w", err)
	}
	m.post(event{kind: evStart})
	return nil
}

// Close tears the link down. The Manager cannot be restarted; in-flight
// discovery is abandoned wholesale rather than partially cancelled.
func (m *Manager) Close() error {
	m.stop.Do(func() { close(m.done) })
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.chars = nil
	m.state = StateIdle
	m.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	return nil
}

// State returns the current connection-lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTelemetry registers the telemetry frame subscriber.
func (m *Manager) OnTelemetry(fn func(wire.TelemetryFrame)) {
	m.mu.Lock()
	m.onTelemetry = fn
	m.mu.Unlock()
}

// OnInbox registers the mesh message subscriber.
func (m *Manager) OnInbox(fn func(wire.MeshMessage)) { m.bridge.OnInbox(fn) }

// OnStatus registers the mesh status subscriber.
func (m *Manager) OnStatus(fn func(wire.MeshStatus)) { m.bridge.OnStatus(fn) }

// OnHeartbeat registers the partner heartbeat subscriber.
func (m *Manager) OnHeartbeat(fn func(wire.Heartbeat)) {
	m.mu.Lock()
	m.onHeartbeat = fn
	m.mu.Unlock()
}

// OnSendComplete registers the send-completion subscriber. The seq matches
// the value returned by Send.
func (m *Manager) OnSendComplete(fn func(seq uint32, success bool)) {
	m.mu.Lock()
	m.onSendComplete = fn
	m.mu.Unlock()
}

// OnStateChange registers a subscriber for lifecycle transitions.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// Send writes a mesh send request to the partner. Only valid while Ready.
// The returned seq correlates the eventual send-completion callback.
func (m *Manager) Send(to, text string, channel uint8, wantAck bool) (uint32, error) {
	m.mu.Lock()
	state := m.state
	char := m.chars[wire.MeshSendCharUUID]
	m.mu.Unlock()
	if state != StateReady || char == nil {
		return 0, ErrNotConnected
	}

	seq := m.seq.Add(1)
	payload, err := wire.EncodeMeshSend(wire.MeshSendRequest{
		Seq:     seq,
		To:      to,
		Text:    text,
		Channel: channel,
		WantAck: wantAck,
	})
	if err != nil {
		return 0, err
	}
	if err := char.Write(payload); err != nil {
		slog.Warn("[link] send write failed", "seq", seq, "error", err)
		m.completeSend(seq, false)
		return seq, nil
	}
	return seq, nil
}

// Status returns the last mesh status snapshot received from the partner.
func (m *Manager) Status() (wire.MeshStatus, bool) { return m.bridge.Status() }

// Nodes returns the cached node table. Call RefreshNodes to update it.
func (m *Manager) Nodes() []wire.NodeInfo { return m.bridge.Nodes() }

// UnreadCount returns the number of inbox messages since MarkAllRead.
func (m *Manager) UnreadCount() int { return m.bridge.UnreadCount() }

// MarkAllRead clears the unread counter.
func (m *Manager) MarkAllRead() { m.bridge.MarkAllRead() }

// Messages returns the inbox contents, oldest first.
func (m *Manager) Messages() []wire.MeshMessage { return m.bridge.Messages() }

// RefreshNodes reads the node list channel and replaces the node table
// wholesale. Only valid while Ready.
func (m *Manager) RefreshNodes() error {
	m.mu.Lock()
	state := m.state
	char := m.chars[wire.NodeListCharUUID]
	m.mu.Unlock()
	if state != StateReady || char == nil {
		return ErrNotConnected
	}
	data, err := char.Read()
	if err != nil {
		return fmt.Errorf("link: read node list: %w", err)
	}
	nodes, err := wire.DecodeNodeList(data)
	if err != nil {
		return fmt.Errorf("link: node list: %w", err)
	}
	m.bridge.UpdateNodes(nodes)
	return nil
}

// ── state machine ──

func (m *Manager) run() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// handleEvent is the single consumer of protocol events; transitions are
// serialized here.
func (m *Manager) handleEvent(ev event) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch ev.kind {
	case evStart:
		if state != StateIdle {
			return
		}
		m.setState(StateScanning)
		go m.runScan()

	case evDeviceFound:
		if state != StateScanning {
			return
		}
		slog.Info("[link] partner found", "name", ev.device.Name, "addr", ev.device.Address, "rssi", ev.device.RSSI)
		m.setState(StateConnecting)
		go m.runConnect(ev.device)

	case evScanFailed:
		if state != StateScanning {
			return
		}
		if ev.err != nil {
			slog.Warn("[link] scan failed", "error", ev.err)
		}
		go m.rescanAfterDelay()

	case evConnected:
		if state != StateConnecting {
			ev.conn.Disconnect()
			return
		}
		m.mu.Lock()
		m.conn = ev.conn
		m.mu.Unlock()
		conn := ev.conn
		conn.OnDisconnect(func() {
			m.post(event{kind: evDisconnected, conn: conn})
		})
		m.setState(StateDiscoveringServices)
		go m.runDiscoverServices(conn)

	case evConnectFailed:
		if state != StateConnecting {
			return
		}
		slog.Warn("[link] connect failed", "error", ev.err)
		m.setState(StateScanning)
		go m.rescanAfterDelay()

	case evServicesFound:
		if state != StateDiscoveringServices {
			return
		}
		m.setState(StateDiscoveringCharacteristics)
		go m.runDiscoverChars(ev.services)

	case evCharsFound:
		if state != StateDiscoveringCharacteristics {
			return
		}
		m.mu.Lock()
		m.chars = ev.chars
		m.mu.Unlock()
		m.setState(StateSubscribing)
		go m.runSubscribe(ev.chars)

	case evDiscoveryFailed:
		if state != StateDiscoveringServices && state != StateDiscoveringCharacteristics {
			return
		}
		slog.Warn("[link] discovery failed, rescanning", "error", ev.err)
		m.teardownConn()
		m.setState(StateScanning)
		go m.rescanAfterDelay()

	case evSubscribed:
		if state != StateSubscribing {
			return
		}
		// a failed subscription is logged, not fatal: writes and reads
		// still function without notifications
		if ev.err != nil {
			slog.Warn("[link] subscribe incomplete", "error", ev.err)
		}
		m.setState(StateReady)

	case evDisconnected:
		m.mu.Lock()
		stale := m.conn != ev.conn
		m.mu.Unlock()
		if stale {
			return
		}
		slog.Warn("[link] disconnected")
		m.teardownConn()
		m.setState(StateDisconnected)
		m.setState(StateScanning)
		go m.rescanAfterDelay()

	case evNotify:
		if state != StateReady {
			return
		}
		m.dispatch(ev.char, ev.data)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()
	if old != s {
		slog.Debug("[link] state", "from", old.String(), "to", s.String())
		if fn != nil {
			fn(s)
		}
	}
}

func (m *Manager) teardownConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.chars = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

func (m *Manager) runScan() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ScanTimeout)
	defer cancel()
	devices, err := m.adapter.Scan(ctx, m.opts.DeviceName)
	if err != nil {
		m.post(event{kind: evScanFailed, err: err})
		return
	}
	for _, d := range devices {
		if d.Name == m.opts.DeviceName {
			m.post(event{kind: evDeviceFound, device: d})
			return
		}
	}
	m.post(event{kind: evScanFailed})
}

func (m *Manager) rescanAfterDelay() {
	select {
	case <-m.done:
		return
	case <-time.After(m.opts.RescanDelay):
	}
	m.runScan()
}

func (m *Manager) runConnect(d Device) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()
	conn, err := m.adapter.Connect(ctx, d.Address)
	if err != nil {
		m.post(event{kind: evConnectFailed, err: err})
		return
	}
	m.post(event{kind: evConnected, conn: conn})
}

func (m *Manager) runDiscoverServices(conn Connection) {
	services := make(map[string]Service, len(requiredChars))
	for svcUUID := range requiredChars {
		svc, err := conn.DiscoverService(svcUUID)
		if err != nil {
			m.post(event{kind: evDiscoveryFailed,
				err: fmt.Errorf("service %s: %v: %w", svcUUID, err, ErrDiscoveryFailed)})
			return
		}
		services[svcUUID] = svc
	}
	m.post(event{kind: evServicesFound, services: services})
}

func (m *Manager) runDiscoverChars(services map[string]Service) {
	chars := make(map[string]Characteristic)
	for svcUUID, charUUIDs := range requiredChars {
		svc := services[svcUUID]
		for _, charUUID := range charUUIDs {
			char, err := svc.DiscoverCharacteristic(charUUID)
			if err != nil {
				m.post(event{kind: evDiscoveryFailed,
					err: fmt.Errorf("characteristic %s: %v: %w", charUUID, err, ErrDiscoveryFailed)})
				return
			}
			chars[charUUID] = char
		}
	}
	m.post(event{kind: evCharsFound, chars: chars})
}

func (m *Manager) runSubscribe(chars map[string]Characteristic) {
	var firstErr error
	for _, charUUID := range subscribedChars {
		uuid := charUUID
		err := chars[uuid].Subscribe(func(data []byte) {
			m.post(event{kind: evNotify, char: uuid, data: data})
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("subscribe %s: %w", uuid, err)
		}
	}
	m.post(event{kind: evSubscribed, err: firstErr})
}

// dispatch decodes a notification and hands it to the matching subscriber.
// Malformed frames are logged and dropped, never propagated.
func (m *Manager) dispatch(charUUID string, data []byte) {
	switch charUUID {
	case wire.TelemetryCharUUID:
		frame, err := wire.DecodeTelemetry(data)
		if err != nil {
			slog.Warn("[link] dropping telemetry frame", "error", err)
			return
		}
		m.mu.Lock()
		fn := m.onTelemetry
		m.mu.Unlock()
		if fn != nil {
			fn(frame)
		}

	case wire.MeshInboxCharUUID:
		msg, err := wire.DecodeMeshMessage(data)
		if err != nil {
			slog.Warn("[link] dropping inbox frame", "error", err)
			return
		}
		m.bridge.Ingest(msg)

	case wire.MeshStatusCharUUID:
		st, err := wire.DecodeMeshStatus(data)
		if err != nil {
			slog.Warn("[link] dropping status frame", "error", err)
			return
		}
		m.bridge.UpdateStatus(st)

	case wire.AckCharUUID:
		seq, err := wire.DecodeAck(data)
		if err != nil {
			slog.Warn("[link] dropping ack frame", "error", err)
			return
		}
		m.completeSend(seq, true)

	case wire.HeartbeatCharUUID:
		hb, err := wire.DecodeHeartbeat(data)
		if err != nil {
			slog.Warn("[link] dropping heartbeat frame", "error", err)
			return
		}
		m.mu.Lock()
		fn := m.onHeartbeat
		m.mu.Unlock()
		if fn != nil {
			fn(hb)
		}

	default:
		slog.Debug("[link] notification on unknown channel", "char", charUUID)
	}
}

func (m *Manager) completeSend(seq uint32, success bool) {
	m.mu.Lock()
	fn := m.onSendComplete
	m.mu.Unlock()
	if fn != nil {
		fn(seq, success)
	}
}
