package eksr

import (
	"context"
)

// UUID16 is a 16-bit UUID alias as printed in GATT listings, e.g. "FFE0".
type UUID16 string

// Reference deployment identifiers for the FarDriver telemetry channel.
// These are defaults only; override them with OptServiceUUID and
// OptCharacteristicUUID when the controller is configured differently.
const (
	DefaultServiceUUID        UUID16 = "FFE0"
	DefaultCharacteristicUUID UUID16 = "FFEC"
)

// Equal compares two UUID aliases case-insensitively.
func (u UUID16) Equal(o UUID16) bool {
	if len(u) != len(o) {
		return false
	}
	for i := 0; i < len(u); i++ {
		a, b := u[i], o[i]
		if 'a' <= a && a <= 'z' {
			a -= 'a' - 'A'
		}
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// AdvHandler handles advertisement reports delivered during a scan.
type AdvHandler func(a Advertisement)

// AdvFilter returns true if the advertisement matches specified condition.
type AdvFilter func(a Advertisement) bool

// NotificationHandler handles the payload of a notification or indication.
type NotificationHandler func(data []byte)

// Advertisement is a single advertising report observed while scanning.
type Advertisement interface {
	Addr() Addr
	LocalName() string
	Services() []UUID16
	RSSI() int
	Connectable() bool
}

// FilterService matches advertisers that expose the given service.
func FilterService(svc UUID16) AdvFilter {
	return func(a Advertisement) bool {
		for _, u := range a.Services() {
			if u.Equal(svc) {
				return true
			}
		}
		return false
	}
}

// Characteristic is a handle to a remote GATT characteristic.
type Characteristic interface {
	UUID() UUID16
	CanNotify() bool
	CanIndicate() bool
	CanWrite() bool
}

// Client is an established connection to a peripheral.
type Client interface {
	// Addr returns the peer address this client is connected to.
	Addr() Addr

	// Characteristic looks up chr under svc in the discovered (or cached)
	// service directory. ok is false if either is absent.
	Characteristic(svc, chr UUID16) (c Characteristic, ok bool)

	// Subscribe registers h for notifications of c, or for indications
	// when indicate is true.
	Subscribe(c Characteristic, indicate bool, h NotificationHandler) error

	// Unsubscribe deregisters the notification handler of c.
	Unsubscribe(c Characteristic) error

	// WriteCharacteristic writes b to c without response.
	WriteCharacteristic(c Characteristic, b []byte) error

	// Disconnected returns a receiving channel, which is closed when the
	// connection disconnects.
	Disconnected() <-chan struct{}

	// CancelConnection disconnects and releases the client.
	CancelConnection() error
}

// Central is the consumed capability surface of the underlying BLE stack
// for the scanning/connecting side of the link.
type Central interface {
	// Scan starts scanning and delivers advertising reports to h until
	// StopScan is called. Scanning is unbounded unless the caller bounds it.
	Scan(allowDup bool, h AdvHandler) error

	// StopScan stops an in-progress scan.
	StopScan() error

	// Dial connects to the peripheral at a. When refreshServices is false
	// the stack may reuse a previously discovered service directory for
	// this peer instead of running discovery again, which is considerably
	// faster and cheaper on a reconnect.
	Dial(ctx context.Context, a Addr, refreshServices bool) (Client, error)
}

// Peripheral is the capability surface for the advertising/server side,
// used by the synthetic source.
type Peripheral interface {
	// AdvertiseNameAndServices advertises device name and service UUIDs.
	AdvertiseNameAndServices(name string, uuids ...UUID16) error

	// StopAdvertising stops advertising.
	StopAdvertising() error

	// Notify pushes b to the subscribed central. It is an error to notify
	// with no subscriber attached.
	Notify(b []byte) error

	// SetPeerHandlers registers callbacks invoked when a central connects
	// to or disconnects from this peripheral.
	SetPeerHandlers(onConnected, onDisconnected func(Addr))
}
