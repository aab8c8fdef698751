// Package loopback is an in-memory transport implementing both the
// Central and Peripheral capability surfaces over one in-process link.
// It stands in for a real radio stack in tests and demos: the emulator
// drives the peripheral half while a session consumes the central half.
package loopback

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
)

// Link is one peripheral/central pair. The zero value is not usable;
// call New.
type Link struct {
	peerAddr eksr.Addr
	svc      eksr.UUID16
	chr      eksr.UUID16

	mu sync.Mutex

	// peripheral half
	advertising bool
	localName   string
	advertised  []eksr.UUID16
	onConnected func(eksr.Addr)
	onDetached  func(eksr.Addr)

	// central half
	scanning   bool
	advHandler eksr.AdvHandler

	cln    *client
	writes [][]byte
}

// New creates an idle link whose peripheral half will be reachable at
// addr once it advertises. The link exposes one characteristic, chr,
// under svc.
func New(addr string, svc, chr eksr.UUID16) *Link {
	return &Link{
		peerAddr: eksr.NewAddr(addr),
		svc:      svc,
		chr:      chr,
	}
}

// --- peripheral half ---

// AdvertiseNameAndServices starts advertising. A central already
// scanning gets the report immediately.
func (l *Link) AdvertiseNameAndServices(name string, uuids ...eksr.UUID16) error {
	l.mu.Lock()
	l.advertising = true
	l.localName = name
	l.advertised = append([]eksr.UUID16(nil), uuids...)
	h := l.advHandler
	scanning := l.scanning
	l.mu.Unlock()

	if scanning && h != nil {
		go h(l.advertisement())
	}
	return nil
}

// StopAdvertising stops advertising. The live connection, if any, stays.
func (l *Link) StopAdvertising() error {
	l.mu.Lock()
	l.advertising = false
	l.mu.Unlock()
	return nil
}

// Notify pushes b to the subscribed central.
func (l *Link) Notify(b []byte) error {
	l.mu.Lock()
	cln := l.cln
	l.mu.Unlock()

	if cln == nil {
		return errors.New("no peer connected")
	}
	cln.deliver(b)
	return nil
}

// SetPeerHandlers registers the peripheral's connect/disconnect callbacks.
func (l *Link) SetPeerHandlers(onConnected, onDisconnected func(eksr.Addr)) {
	l.mu.Lock()
	l.onConnected = onConnected
	l.onDetached = onDisconnected
	l.mu.Unlock()
}

// --- central half ---

// Scan starts delivering advertising reports to h.
func (l *Link) Scan(allowDup bool, h eksr.AdvHandler) error {
	l.mu.Lock()
	l.scanning = true
	l.advHandler = h
	advertising := l.advertising
	l.mu.Unlock()

	if advertising && h != nil {
		go h(l.advertisement())
	}
	return nil
}

// StopScan stops the scan.
func (l *Link) StopScan() error {
	l.mu.Lock()
	l.scanning = false
	l.advHandler = nil
	l.mu.Unlock()
	return nil
}

// Dial connects the central half to the advertising peripheral half.
// refreshServices is accepted and ignored; the in-memory directory is
// always current.
func (l *Link) Dial(ctx context.Context, a eksr.Addr, refreshServices bool) (eksr.Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	if !l.advertising {
		l.mu.Unlock()
		return nil, errors.Errorf("peer %s is not advertising", a)
	}
	if l.cln != nil {
		l.mu.Unlock()
		return nil, errors.New("already connected")
	}
	c := &client{link: l, disc: make(chan struct{})}
	l.cln = c
	cb := l.onConnected
	l.mu.Unlock()

	if cb != nil {
		cb(l.peerAddr)
	}
	return c, nil
}

// DropLink simulates a link loss initiated by the peripheral.
func (l *Link) DropLink() {
	l.mu.Lock()
	cln := l.cln
	l.mu.Unlock()
	if cln != nil {
		cln.drop()
	}
}

// Writes returns the characteristic writes received by the peripheral,
// in order.
func (l *Link) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

func (l *Link) advertisement() eksr.Advertisement {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &adv{
		addr:     l.peerAddr,
		name:     l.localName,
		services: append([]eksr.UUID16(nil), l.advertised...),
	}
}

func (l *Link) detach(c *client) {
	l.mu.Lock()
	if l.cln != c {
		l.mu.Unlock()
		return
	}
	l.cln = nil
	cb := l.onDetached
	l.mu.Unlock()

	if cb != nil {
		cb(l.peerAddr)
	}
}

type adv struct {
	addr     eksr.Addr
	name     string
	services []eksr.UUID16
}

func (a *adv) Addr() eksr.Addr         { return a.addr }
func (a *adv) LocalName() string       { return a.name }
func (a *adv) Services() []eksr.UUID16 { return a.services }
func (a *adv) RSSI() int               { return -40 }
func (a *adv) Connectable() bool       { return true }

type characteristic struct {
	uuid eksr.UUID16
}

func (c characteristic) UUID() eksr.UUID16 { return c.uuid }
func (c characteristic) CanNotify() bool   { return true }
func (c characteristic) CanIndicate() bool { return false }
func (c characteristic) CanWrite() bool    { return true }

type client struct {
	link *Link

	mu   sync.Mutex
	sub  eksr.NotificationHandler
	disc chan struct{}
	dead bool
}

func (c *client) Addr() eksr.Addr { return c.link.peerAddr }

func (c *client) Characteristic(svc, chr eksr.UUID16) (eksr.Characteristic, bool) {
	if !svc.Equal(c.link.svc) || !chr.Equal(c.link.chr) {
		return nil, false
	}
	return characteristic{uuid: c.link.chr}, true
}

func (c *client) Subscribe(ch eksr.Characteristic, indicate bool, h eksr.NotificationHandler) error {
	if indicate {
		return errors.New("indications not supported")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return errors.New("client disconnected")
	}
	c.sub = h
	return nil
}

func (c *client) Unsubscribe(ch eksr.Characteristic) error {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
	return nil
}

func (c *client) WriteCharacteristic(ch eksr.Characteristic, b []byte) error {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return errors.New("client disconnected")
	}
	cp := append([]byte(nil), b...)
	c.link.mu.Lock()
	c.link.writes = append(c.link.writes, cp)
	c.link.mu.Unlock()
	return nil
}

func (c *client) Disconnected() <-chan struct{} { return c.disc }

func (c *client) CancelConnection() error {
	c.drop()
	return nil
}

// deliver hands one notification payload to the subscriber, whole, on
// the caller's goroutine.
func (c *client) deliver(b []byte) {
	c.mu.Lock()
	h := c.sub
	dead := c.dead
	c.mu.Unlock()
	if dead || h == nil {
		return
	}
	h(append([]byte(nil), b...))
}

func (c *client) drop() {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.sub = nil
	close(c.disc)
	c.mu.Unlock()

	c.link.detach(c)
}
