package link

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/oddforge/wristlink/internal/wire"
)

// BluetoothAdapter implements the central-role Adapter on
// tinygo.org/x/bluetooth.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*bluetoothConnection // keyed by device address
}

// NewBluetoothAdapter creates a central adapter over the default radio.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluetoothConnection),
	}
}

func (a *BluetoothAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler is the only disconnect signal the stack
	// gives us; route it to the matching connection's callback.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		a.mu.Unlock()
		if ok {
			conn.disconnected()
		}
	})
	return nil
}

func (a *BluetoothAdapter) Scan(ctx context.Context, name string) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.LocalName() != name {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		if seen[addr] {
			mu.Unlock()
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
		mu.Unlock()
		// one partner is all we connect to; no point scanning on
		adapter.StopScan()
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("link: scan: %w", err)
	}
	return devices, nil
}

func (a *BluetoothAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	var target bluetooth.Address
	target.Set(addr)

	// The stack's Connect blocks with its own timeout; wrap it so our ctx
	// deadline is also honored.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(target, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("link: connect to %s: %w", addr, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("link: connect to %s: %w", addr, result.err)
		}
		conn := &bluetoothConnection{device: result.device}
		a.mu.Lock()
		a.connections[addr] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device bluetooth.Device

	// mu guards disconnectCb; it is set on the state-machine goroutine
	// and read from the adapter's connect-handler callback.
	mu           sync.Mutex
	disconnectCb func()
}

func (c *bluetoothConnection) disconnected() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *bluetoothConnection) DiscoverService(serviceUUID string) (Service, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("link: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("link: service %s not found", serviceUUID)
	}
	return &bluetoothService{svc: svcs[0]}, nil
}

func (c *bluetoothConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluetoothConnection) OnDisconnect(callback func()) {
	c.mu.Lock()
	c.disconnectCb = callback
	c.mu.Unlock()
}

type bluetoothService struct {
	svc bluetooth.DeviceService
}

func (s *bluetoothService) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("link: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("link: characteristic %s not found", charUUID)
	}
	return &bluetoothCharacteristic{char: chars[0]}, nil
}

type bluetoothCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bluetoothCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, wire.MaxReadLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *bluetoothCharacteristic) Subscribe(callback func(data []byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		callback(buf)
	})
}

// BluetoothPeripheral implements the peripheral-role adapter on
// tinygo.org/x/bluetooth.
type BluetoothPeripheral struct {
	adapter *bluetooth.Adapter

	mu            sync.Mutex
	chars         map[string]*bluetooth.Characteristic
	writeHandlers map[string]func([]byte)
	connHandler   func(bool)
	subHandler    func(string, bool)
	configured    bool
	adv           *bluetooth.Advertisement
}

// NewBluetoothPeripheral creates a peripheral adapter over the default
// radio.
func NewBluetoothPeripheral() *BluetoothPeripheral {
	return &BluetoothPeripheral{
		adapter:       bluetooth.DefaultAdapter,
		chars:         make(map[string]*bluetooth.Characteristic),
		writeHandlers: make(map[string]func([]byte)),
	}
}

// Enable powers on the radio and registers the GATT services.
func (p *BluetoothPeripheral) Enable() error {
	if err := p.adapter.Enable(); err != nil {
		return err
	}

	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.mu.Lock()
		connCb := p.connHandler
		subCb := p.subHandler
		p.mu.Unlock()
		if connCb != nil {
			connCb(connected)
		}
		// The stack manages CCCDs itself and suppresses pushes to
		// unsubscribed centrals, so surface one subscription event per
		// channel on connect to keep the host's gating live.
		if subCb != nil && connected {
			for _, uuid := range subscribedChars {
				subCb(uuid, true)
			}
		}
	})

	return p.registerServices()
}

func (p *BluetoothPeripheral) registerServices() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configured {
		return nil
	}

	services := []struct {
		uuid  string
		chars []bluetooth.CharacteristicConfig
	}{
		{wire.RemoteInputServiceUUID, []bluetooth.CharacteristicConfig{
			p.notifyChar(wire.TelemetryCharUUID),
		}},
		{wire.MeshRelayServiceUUID, []bluetooth.CharacteristicConfig{
			p.notifyChar(wire.MeshInboxCharUUID),
			p.writeChar(wire.MeshSendCharUUID),
			p.readNotifyChar(wire.MeshStatusCharUUID),
			p.readChar(wire.NodeListCharUUID),
		}},
		{wire.CommandSyncServiceUUID, []bluetooth.CharacteristicConfig{
			p.indicateChar(wire.AckCharUUID),
			p.notifyChar(wire.HeartbeatCharUUID),
		}},
	}

	for _, svc := range services {
		uuid, err := bluetooth.ParseUUID(svc.uuid)
		if err != nil {
			return err
		}
		err = p.adapter.AddService(&bluetooth.Service{
			UUID:            uuid,
			Characteristics: svc.chars,
		})
		if err != nil {
			return fmt.Errorf("link: add service %s: %w", svc.uuid, err)
		}
	}
	p.configured = true
	return nil
}

func (p *BluetoothPeripheral) charConfig(charUUID string, flags bluetooth.CharacteristicPermissions) bluetooth.CharacteristicConfig {
	uuid, _ := bluetooth.ParseUUID(charUUID)
	handle := &bluetooth.Characteristic{}
	p.chars[charUUID] = handle
	cfg := bluetooth.CharacteristicConfig{
		Handle: handle,
		UUID:   uuid,
		Flags:  flags,
	}
	if flags&bluetooth.CharacteristicWritePermission != 0 {
		id := charUUID
		cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
			p.mu.Lock()
			h := p.writeHandlers[id]
			p.mu.Unlock()
			if h != nil {
				h(append([]byte(nil), value...))
			}
		}
	}
	return cfg
}

func (p *BluetoothPeripheral) notifyChar(uuid string) bluetooth.CharacteristicConfig {
	return p.charConfig(uuid, bluetooth.CharacteristicNotifyPermission)
}

func (p *BluetoothPeripheral) readChar(uuid string) bluetooth.CharacteristicConfig {
	return p.charConfig(uuid, bluetooth.CharacteristicReadPermission)
}

func (p *BluetoothPeripheral) readNotifyChar(uuid string) bluetooth.CharacteristicConfig {
	return p.charConfig(uuid, bluetooth.CharacteristicReadPermission|bluetooth.CharacteristicNotifyPermission)
}

func (p *BluetoothPeripheral) writeChar(uuid string) bluetooth.CharacteristicConfig {
	return p.charConfig(uuid, bluetooth.CharacteristicWritePermission)
}

func (p *BluetoothPeripheral) indicateChar(uuid string) bluetooth.CharacteristicConfig {
	return p.charConfig(uuid, bluetooth.CharacteristicIndicatePermission)
}

func (p *BluetoothPeripheral) StartAdvertising(name string) error {
	remoteInput, _ := bluetooth.ParseUUID(wire.RemoteInputServiceUUID)
	meshRelay, _ := bluetooth.ParseUUID(wire.MeshRelayServiceUUID)

	adv := p.adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: []bluetooth.UUID{remoteInput, meshRelay},
	})
	if err != nil {
		return fmt.Errorf("link: configure advertisement: %w", err)
	}
	p.mu.Lock()
	p.adv = adv
	p.mu.Unlock()
	return adv.Start()
}

func (p *BluetoothPeripheral) StopAdvertising() error {
	p.mu.Lock()
	adv := p.adv
	p.mu.Unlock()
	if adv == nil {
		return nil
	}
	return adv.Stop()
}

func (p *BluetoothPeripheral) SetValue(charUUID string, data []byte) {
	p.mu.Lock()
	char := p.chars[charUUID]
	p.mu.Unlock()
	if char != nil {
		char.Write(data)
	}
}

func (p *BluetoothPeripheral) Notify(charUUID string, data []byte) error {
	p.mu.Lock()
	char := p.chars[charUUID]
	p.mu.Unlock()
	if char == nil {
		return fmt.Errorf("link: unknown channel %s", charUUID)
	}
	_, err := char.Write(data)
	return err
}

func (p *BluetoothPeripheral) Indicate(charUUID string, data []byte) error {
	// the stack upgrades the push to an indication when the
	// characteristic was registered with the indicate permission
	return p.Notify(charUUID, data)
}

func (p *BluetoothPeripheral) OnWrite(charUUID string, handler func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandlers[charUUID] = handler
}

func (p *BluetoothPeripheral) OnConnectionChange(handler func(connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connHandler = handler
}

func (p *BluetoothPeripheral) OnSubscriptionChange(handler func(charUUID string, enabled bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subHandler = handler
}

var _ Peripheral = (*BluetoothPeripheral)(nil)
