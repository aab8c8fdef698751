// Package session drives the consuming (central) side of a FarDriver
// telemetry link: scan for the advertised service, connect, subscribe to
// the telemetry characteristic and fold inbound frames into a telemetry
// accumulator, reconnecting per a configurable retry policy when the
// link drops.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
	"github.com/C-broderick-225/EKSR-Instrument/fardriver"
)

// ErrServiceMismatch is reported when the expected service or
// characteristic is absent after connecting. It is handled like any other
// connection failure: the peripheral already matched on its advertised
// service, so a missing directory entry is a link problem, not a protocol
// one.
var ErrServiceMismatch = errors.New("expected service or characteristic absent")

// Stats are observability counters of one session.
type Stats struct {
	FramesDecoded uint64
	FramesDropped uint64
	UnknownKinds  uint64
	Reconnects    uint64
}

// PeerCache remembers peripherals this consumer connected to before.
// A known peer lets Dial skip service discovery on reconnect.
type PeerCache interface {
	Known(a eksr.Addr) bool
	Remember(a eksr.Addr, name string) error
}

// Session is one logical link attempt/lifetime. All state mutation runs
// under a single mutex so transport callbacks, which arrive on the
// stack's goroutines, never race the consumer. A stopped session is
// terminal; create a new one to reconnect from scratch.
type Session struct {
	cfg     eksr.Config
	log     eksr.Logger
	central eksr.Central

	mu         sync.Mutex
	state      State
	target     eksr.Addr
	targetName string
	client     eksr.Client
	char       eksr.Characteristic
	tel        *fardriver.Telemetry
	stats      Stats
	attempts   int
	bo         *backoff.Backoff
	stopped    bool
	cancelDial context.CancelFunc
	retryTimer *time.Timer

	peers    PeerCache
	onUpdate func(fardriver.Telemetry)
	release  func()

	done chan struct{}
}

// New creates a session on top of the given central transport.
func New(central eksr.Central, opts ...eksr.Option) (*Session, error) {
	if central == nil {
		return nil, errors.New("nil central transport")
	}
	cfg := eksr.DefaultConfig()
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, errors.Wrap(err, "can't set options")
		}
	}
	s := &Session{
		cfg:     cfg,
		log:     cfg.Logger.ChildLogger(map[string]interface{}{"svc": string(cfg.ServiceUUID)}),
		central: central,
		state:   StateIdle,
		tel:     fardriver.NewTelemetry(),
		bo: &backoff.Backoff{
			Min:    cfg.Retry.BackoffMin,
			Max:    cfg.Retry.BackoffMax,
			Factor: cfg.Retry.BackoffFactor,
			Jitter: cfg.Retry.Jitter,
		},
		done: make(chan struct{}),
	}
	return s, nil
}

// SetPeerCache wires a known-peer cache. Call before Start.
func (s *Session) SetPeerCache(pc PeerCache) {
	s.mu.Lock()
	s.peers = pc
	s.mu.Unlock()
}

// OnUpdate registers a callback invoked with a telemetry snapshot after
// every folded frame. Call before Start. The callback runs outside the
// session lock.
func (s *Session) OnUpdate(fn func(fardriver.Telemetry)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Start moves the session from Idle to Scanning. Scanning is unbounded;
// the session sits there until a matching advertiser shows up or Stop is
// called.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("session is stopped")
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.toState(StateScanning)
	s.mu.Unlock()

	if err := s.central.Scan(false, s.handleAdv); err != nil {
		s.mu.Lock()
		s.toState(StateIdle)
		s.mu.Unlock()
		return errors.Wrap(err, "can't start scan")
	}
	return nil
}

// Stop tears the session down from whatever state it is in: a scan is
// stopped, an in-flight connect is aborted, a streaming link is
// unsubscribed and disconnected. No telemetry is folded after Stop
// returns, even for notifications already in flight.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	st := s.state
	cln, char := s.client, s.char
	s.client, s.char = nil, nil
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.target = nil
	s.toState(StateIdle)
	release := s.release
	s.release = nil
	close(s.done)
	s.mu.Unlock()

	if st == StateScanning {
		if err := s.central.StopScan(); err != nil {
			s.log.Warn("stop scan: ", err)
		}
	}
	if cln != nil {
		if char != nil {
			if err := cln.Unsubscribe(char); err != nil {
				s.log.Debug("unsubscribe: ", err)
			}
		}
		if err := cln.CancelConnection(); err != nil {
			s.log.Debug("disconnect: ", err)
		}
	}
	if release != nil {
		release()
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the address of the targeted peripheral, nil before one
// is found.
func (s *Session) Target() eksr.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Telemetry returns a snapshot of the accumulated telemetry.
func (s *Session) Telemetry() fardriver.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tel.Snapshot()
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// toState must be called with s.mu held.
func (s *Session) toState(next State) {
	if s.state == next {
		return
	}
	s.log.Debugf("state %v -> %v", s.state, next)
	s.state = next
}

// handleAdv runs on the transport's scan goroutine. A second report for
// an already-targeted peer while a connect is in flight lands outside
// Scanning and is ignored, so at most one attempt is ever in flight.
func (s *Session) handleAdv(a eksr.Advertisement) {
	if !eksr.FilterService(s.cfg.ServiceUUID)(a) {
		return
	}

	s.mu.Lock()
	if s.stopped || s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.target = a.Addr()
	s.targetName = a.LocalName()
	s.toState(StateFound)
	s.mu.Unlock()

	s.log.Infof("found %s (%s), stopping scan", a.Addr(), a.LocalName())
	// stop scan before connecting
	if err := s.central.StopScan(); err != nil {
		s.log.Warn("stop scan: ", err)
	}

	s.mu.Lock()
	if s.stopped || s.state != StateFound {
		s.mu.Unlock()
		return
	}
	s.toState(StateConnecting)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	target := s.target
	s.mu.Unlock()

	go s.connect(ctx, target)
}

func (s *Session) connect(ctx context.Context, target eksr.Addr) {
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	// A previously-seen peer keeps its service directory; reconnecting
	// without refreshing it is considerably faster and cheaper.
	refresh := true
	s.mu.Lock()
	if s.peers != nil && s.peers.Known(target) {
		refresh = false
	}
	s.mu.Unlock()

	cln, err := s.central.Dial(ctx, target, refresh)

	s.mu.Lock()
	if s.stopped || s.state != StateConnecting {
		s.mu.Unlock()
		if cln != nil {
			// a connection we no longer want must not leak
			_ = cln.CancelConnection()
		}
		return
	}
	s.cancelDial = nil
	if err != nil {
		s.mu.Unlock()
		s.toDisconnected(nil, errors.Wrap(err, "connect failed"))
		return
	}
	s.client = cln
	s.toState(StateSubscribing)
	s.mu.Unlock()

	s.subscribe(cln)
}

func (s *Session) subscribe(cln eksr.Client) {
	char, ok := cln.Characteristic(s.cfg.ServiceUUID, s.cfg.CharacteristicUUID)
	if !ok {
		s.toDisconnected(cln, ErrServiceMismatch)
		return
	}

	var err error
	switch {
	case char.CanNotify():
		err = cln.Subscribe(char, false, s.handleNotification)
	case char.CanIndicate():
		// fall back to indications
		err = cln.Subscribe(char, true, s.handleNotification)
	default:
		err = errors.New("characteristic supports neither notify nor indicate")
	}
	if err != nil {
		// never leave a half-subscribed link open
		s.toDisconnected(cln, errors.Wrap(err, "subscribe failed"))
		return
	}

	s.mu.Lock()
	if s.stopped || s.state != StateSubscribing {
		s.mu.Unlock()
		_ = cln.Unsubscribe(char)
		_ = cln.CancelConnection()
		return
	}
	s.char = char
	s.toState(StateStreaming)
	s.attempts = 0
	s.bo.Reset()
	peers, name := s.peers, s.targetName
	target := s.target
	s.mu.Unlock()

	s.log.Infof("streaming from %s", target)
	if peers != nil {
		if err := peers.Remember(target, name); err != nil {
			s.log.Warn("peer cache: ", err)
		}
	}

	go s.watch(cln)
	if s.cfg.KeepAliveInterval > 0 {
		go s.keepAlive(cln, char)
	}
}

// watch waits for an asynchronous disconnect from the transport.
func (s *Session) watch(cln eksr.Client) {
	select {
	case <-cln.Disconnected():
		s.toDisconnected(cln, errors.New("link lost"))
	case <-s.done:
	}
}

// keepAlive periodically writes the controller keep-alive packet while
// streaming, as the reference display does.
func (s *Session) keepAlive(cln eksr.Client, char eksr.Characteristic) {
	t := time.NewTicker(s.cfg.KeepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-cln.Disconnected():
			return
		case <-s.done:
			return
		case <-t.C:
			s.mu.Lock()
			active := !s.stopped && s.state == StateStreaming && s.client == cln
			s.mu.Unlock()
			if !active {
				return
			}
			if err := cln.WriteCharacteristic(char, fardriver.KeepAlive()); err != nil {
				s.toDisconnected(cln, errors.Wrap(err, "keep-alive write failed"))
				return
			}
		}
	}
}

// handleNotification runs on the transport's notification goroutine.
// Anything but exactly 16 bytes is noise, not a protocol violation, and
// is discarded without touching session state.
func (s *Session) handleNotification(data []byte) {
	s.mu.Lock()
	if s.stopped || s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	if len(data) != fardriver.FrameLen {
		s.stats.FramesDropped++
		s.mu.Unlock()
		return
	}
	f, err := fardriver.Decode(data)
	if err != nil {
		s.stats.FramesDropped++
		s.log.Debug("dropping frame: ", err)
		s.mu.Unlock()
		return
	}
	if !f.Known() {
		s.stats.UnknownKinds++
	}
	s.stats.FramesDecoded++
	s.tel.Apply(f)
	fn := s.onUpdate
	var snap fardriver.Telemetry
	if fn != nil {
		snap = s.tel.Snapshot()
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// toDisconnected records a failed attempt and applies the retry policy:
// re-enter Scanning after a backoff, or give up to Idle once the
// configured budget is exhausted. A non-nil from ties the event to the
// client it came in on; an event from a client the session already
// abandoned is stale and must not touch the current attempt.
func (s *Session) toDisconnected(from eksr.Client, cause error) {
	s.mu.Lock()
	if s.stopped || s.state == StateDisconnected || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	if from != nil && from != s.client {
		s.mu.Unlock()
		s.log.Debug("ignoring stale transport event: ", cause)
		return
	}
	wasStreaming := s.state == StateStreaming
	cln, char := s.client, s.char
	s.client, s.char = nil, nil
	s.toState(StateDisconnected)
	s.attempts++
	if wasStreaming {
		s.stats.Reconnects++
	}
	giveUp := s.cfg.Retry.MaxAttempts > 0 && s.attempts >= s.cfg.Retry.MaxAttempts
	var wait time.Duration
	if !giveUp {
		wait = s.bo.Duration()
	}
	attempts := s.attempts
	s.mu.Unlock()

	s.log.Warnf("disconnected (attempt %d): %v", attempts, cause)

	if cln != nil {
		if char != nil {
			_ = cln.Unsubscribe(char)
		}
		_ = cln.CancelConnection()
	}

	if giveUp {
		s.mu.Lock()
		if !s.stopped && s.state == StateDisconnected {
			s.target = nil
			s.toState(StateIdle)
		}
		release := s.release
		s.release = nil
		s.mu.Unlock()
		s.log.Warnf("retry budget exhausted after %d attempts, giving up", attempts)
		if release != nil {
			release()
		}
		return
	}

	timer := time.AfterFunc(wait, s.rescan)
	s.mu.Lock()
	s.retryTimer = timer
	if s.stopped {
		timer.Stop()
	}
	s.mu.Unlock()
}

func (s *Session) rescan() {
	s.mu.Lock()
	if s.stopped || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.toState(StateScanning)
	s.mu.Unlock()

	if err := s.central.Scan(false, s.handleAdv); err != nil {
		s.toDisconnected(nil, errors.Wrap(err, "rescan failed"))
	}
}
