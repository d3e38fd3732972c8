// Package link implements both roles of the partner link: the central-side
// Manager that scans for, connects to, and consumes the partner device, and
// the peripheral-side Host the partner runs. Both roles sit on top of small
// adapter interfaces so the protocol machinery is testable without radio
// hardware.
package link

import "context"

// Device is a discovered peer.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic is one channel of an established connection, central side.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read fetches the characteristic's current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications and indications.
	Subscribe(callback func(data []byte)) error
}

// Service is a discovered service grouping related characteristics.
type Service interface {
	// DiscoverCharacteristic finds a characteristic by UUID.
	DiscoverCharacteristic(charUUID string) (Characteristic, error)
}

// Connection is an active central-side connection to a peripheral.
type Connection interface {
	// DiscoverService finds a service by UUID.
	DiscoverService(serviceUUID string) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the central-role radio stack.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan discovers peers advertising the given name. It returns when
	// ctx is done or the underlying stack finishes a scan cycle.
	Scan(ctx context.Context, name string) ([]Device, error)
	// Connect establishes a connection to the device at addr.
	Connect(ctx context.Context, addr string) (Connection, error)
}

// Peripheral abstracts the peripheral-role radio stack: advertise an
// identity, expose channels, accept writes, emit notifications.
// Channel identifiers are the characteristic UUIDs from the wire package.
type Peripheral interface {
	// StartAdvertising begins advertising under the given name.
	StartAdvertising(name string) error
	// StopAdvertising stops advertising.
	StopAdvertising() error
	// SetValue stores the current value of a readable channel.
	SetValue(charUUID string, data []byte)
	// Notify pushes data to the channel's subscriber, if any.
	Notify(charUUID string, data []byte) error
	// Indicate pushes data with receiver acknowledgement.
	Indicate(charUUID string, data []byte) error
	// OnWrite registers the handler for incoming writes to a channel.
	OnWrite(charUUID string, handler func(data []byte))
	// OnConnectionChange registers the handler for connect/disconnect.
	OnConnectionChange(handler func(connected bool))
	// OnSubscriptionChange registers the handler for a peer enabling or
	// disabling notifications on a channel.
	OnSubscriptionChange(handler func(charUUID string, enabled bool))
}
