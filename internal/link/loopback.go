package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Loopback is an in-memory transport joining one Peripheral to one central
// Adapter. It backs the end-to-end tests and the demo mode, and models the
// radio faithfully enough to exercise the full lifecycle: advertising,
// scan filtering, connect/disconnect in both directions, subscription
// change events, writes, notifications and reads.
type Loopback struct {
	mu          sync.Mutex
	advertising bool
	advName     string
	connected   bool

	values        map[string][]byte
	writeHandlers map[string]func([]byte)
	subscribers   map[string]func([]byte)

	connHandler func(bool)
	subHandler  func(string, bool)

	disconnectCb func() // central side, current connection
}

// NewLoopback creates an unconnected loopback link.
func NewLoopback() *Loopback {
	return &Loopback{
		values:        make(map[string][]byte),
		writeHandlers: make(map[string]func([]byte)),
		subscribers:   make(map[string]func([]byte)),
	}
}

// Central returns the central-role adapter end of the link.
func (l *Loopback) Central() Adapter { return &loopbackAdapter{l: l} }

// DropLink severs an established connection from the transport side, as a
// radio drop would: both roles observe the disconnect.
func (l *Loopback) DropLink() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	l.subscribers = make(map[string]func([]byte))
	connCb := l.connHandler
	discCb := l.disconnectCb
	l.disconnectCb = nil
	l.mu.Unlock()

	if connCb != nil {
		connCb(false)
	}
	if discCb != nil {
		discCb()
	}
}

// ── Peripheral side ──

func (l *Loopback) StartAdvertising(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = true
	l.advName = name
	return nil
}

func (l *Loopback) StopAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	return nil
}

func (l *Loopback) SetValue(charUUID string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[charUUID] = append([]byte(nil), data...)
}

func (l *Loopback) Notify(charUUID string, data []byte) error {
	return l.push(charUUID, data)
}

func (l *Loopback) Indicate(charUUID string, data []byte) error {
	return l.push(charUUID, data)
}

func (l *Loopback) push(charUUID string, data []byte) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return errors.New("loopback: not connected")
	}
	cb := l.subscribers[charUUID]
	l.mu.Unlock()
	if cb == nil {
		return fmt.Errorf("loopback: no subscriber on %s", charUUID)
	}
	cb(append([]byte(nil), data...))
	return nil
}

func (l *Loopback) OnWrite(charUUID string, handler func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeHandlers[charUUID] = handler
}

func (l *Loopback) OnConnectionChange(handler func(connected bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connHandler = handler
}

func (l *Loopback) OnSubscriptionChange(handler func(charUUID string, enabled bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subHandler = handler
}

var _ Peripheral = (*Loopback)(nil)

// ── Central side ──

type loopbackAdapter struct{ l *Loopback }

func (a *loopbackAdapter) Enable() error { return nil }

func (a *loopbackAdapter) Scan(_ context.Context, name string) ([]Device, error) {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	if !a.l.advertising || a.l.advName != name {
		return nil, nil
	}
	return []Device{{Name: a.l.advName, Address: "loopback", RSSI: -40}}, nil
}

func (a *loopbackAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.l.mu.Lock()
	if !a.l.advertising {
		a.l.mu.Unlock()
		return nil, errors.New("loopback: peer not advertising")
	}
	if a.l.connected {
		a.l.mu.Unlock()
		return nil, errors.New("loopback: already connected")
	}
	a.l.connected = true
	cb := a.l.connHandler
	a.l.mu.Unlock()

	if cb != nil {
		cb(true)
	}
	return &loopbackConn{l: a.l}, nil
}

var _ Adapter = (*loopbackAdapter)(nil)

type loopbackConn struct{ l *Loopback }

func (c *loopbackConn) DiscoverService(serviceUUID string) (Service, error) {
	charUUIDs, ok := requiredChars[serviceUUID]
	if !ok {
		return nil, fmt.Errorf("loopback: service %s not found", serviceUUID)
	}
	return &loopbackService{l: c.l, chars: charUUIDs}, nil
}

func (c *loopbackConn) Disconnect() error {
	c.l.mu.Lock()
	if !c.l.connected {
		c.l.mu.Unlock()
		return nil
	}
	c.l.connected = false
	c.l.subscribers = make(map[string]func([]byte))
	c.l.disconnectCb = nil
	cb := c.l.connHandler
	c.l.mu.Unlock()
	if cb != nil {
		cb(false)
	}
	return nil
}

func (c *loopbackConn) OnDisconnect(callback func()) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	c.l.disconnectCb = callback
}

type loopbackService struct {
	l     *Loopback
	chars []string
}

func (s *loopbackService) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	for _, uuid := range s.chars {
		if uuid == charUUID {
			return &loopbackChar{l: s.l, uuid: uuid}, nil
		}
	}
	return nil, fmt.Errorf("loopback: characteristic %s not found", charUUID)
}

type loopbackChar struct {
	l    *Loopback
	uuid string
}

func (c *loopbackChar) Write(data []byte) error {
	c.l.mu.Lock()
	if !c.l.connected {
		c.l.mu.Unlock()
		return errors.New("loopback: not connected")
	}
	h := c.l.writeHandlers[c.uuid]
	c.l.mu.Unlock()
	if h == nil {
		return fmt.Errorf("loopback: channel %s does not accept writes", c.uuid)
	}
	h(append([]byte(nil), data...))
	return nil
}

func (c *loopbackChar) Read() ([]byte, error) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	data, ok := c.l.values[c.uuid]
	if !ok {
		return nil, fmt.Errorf("loopback: channel %s has no value", c.uuid)
	}
	return append([]byte(nil), data...), nil
}

func (c *loopbackChar) Subscribe(callback func(data []byte)) error {
	c.l.mu.Lock()
	c.l.subscribers[c.uuid] = callback
	h := c.l.subHandler
	c.l.mu.Unlock()
	if h != nil {
		h(c.uuid, true)
	}
	return nil
}
