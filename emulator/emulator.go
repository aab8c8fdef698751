// Package emulator is a peripheral-role synthetic FarDriver source. It
// cycles through the defined frame kinds at the real controller's cadence
// with smoothly-varying values, so protocol and state-machine work can
// run without hardware on the bench.
package emulator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
	"github.com/C-broderick-225/EKSR-Instrument/fardriver"
)

// Defaults matching the FarDriver_Emu reference sketch.
const (
	DefaultName   = "FarDriver_Emu"
	DefaultPeriod = 30 * time.Millisecond
)

// An Option configures the emulator.
type Option func(*Emulator) error

// OptName sets the advertised device name.
func OptName(name string) Option {
	return func(e *Emulator) error {
		if name == "" {
			return errors.New("empty name")
		}
		e.name = name
		return nil
	}
}

// OptPeriod sets the emission cadence. The cadence is a configuration
// knob, not a protocol rule.
func OptPeriod(d time.Duration) Option {
	return func(e *Emulator) error {
		if d <= 0 {
			return errors.New("period must be positive")
		}
		e.period = d
		return nil
	}
}

// OptUUIDs overrides the advertised service and notified characteristic.
func OptUUIDs(svc, chr eksr.UUID16) Option {
	return func(e *Emulator) error {
		e.svc, e.chr = svc, chr
		return nil
	}
}

// Emulator synthesizes telemetry frames over any Peripheral transport.
// Frames are emitted only while a consumer is attached; nothing is
// buffered for an absent one, freshness over completeness.
type Emulator struct {
	p      eksr.Peripheral
	log    eksr.Logger
	name   string
	period time.Duration
	svc    eksr.UUID16
	chr    eksr.UUID16

	mu       sync.Mutex
	kinds    []fardriver.Kind
	idx      int
	clock    uint32 // synthetic milliseconds
	attached int
}

// New creates an emulator on p and registers for its peer callbacks.
func New(p eksr.Peripheral, opts ...Option) (*Emulator, error) {
	if p == nil {
		return nil, errors.New("nil peripheral transport")
	}
	e := &Emulator{
		p:      p,
		log:    eksr.GetLogger().ChildLogger(map[string]interface{}{"role": "emulator"}),
		name:   DefaultName,
		period: DefaultPeriod,
		svc:    eksr.DefaultServiceUUID,
		chr:    eksr.DefaultCharacteristicUUID,
		kinds: []fardriver.Kind{
			fardriver.KindMotion,
			fardriver.KindVoltage,
			fardriver.KindControllerTemp,
			fardriver.KindMotorThrottle,
		},
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, errors.Wrap(err, "can't set options")
		}
	}
	p.SetPeerHandlers(e.peerConnected, e.peerDisconnected)
	return e, nil
}

// Run advertises and emits one frame per period until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	if err := e.p.AdvertiseNameAndServices(e.name, e.svc); err != nil {
		return errors.Wrap(err, "can't advertise")
	}
	defer func() {
		if err := e.p.StopAdvertising(); err != nil {
			e.log.Warn("stop advertising: ", err)
		}
	}()

	t := time.NewTicker(e.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.Tick()
		}
	}
}

// Tick runs one emission step: pick the next kind in round-robin order,
// synthesize its values from the synthetic clock and notify the attached
// consumer. With no consumer attached it advances nothing and reports
// false.
func (e *Emulator) Tick() bool {
	e.mu.Lock()
	if e.attached == 0 {
		e.mu.Unlock()
		return false
	}
	kind := e.kinds[e.idx]
	v := e.synthesize(kind)
	e.mu.Unlock()

	b := fardriver.Encode(kind, v)
	if err := e.p.Notify(b[:]); err != nil {
		// keep the cursor in place so the kind is retried next tick
		// instead of dropping out for a whole cycle
		e.log.Debug("notify: ", err)
		return false
	}

	e.mu.Lock()
	e.idx = (e.idx + 1) % len(e.kinds)
	e.clock += uint32(e.period / time.Millisecond)
	e.mu.Unlock()
	return true
}

// synthesize must be called with e.mu held.
func (e *Emulator) synthesize(k fardriver.Kind) fardriver.Values {
	var v fardriver.Values
	switch k {
	case fardriver.KindMotion:
		v.Gear = 2
		// oscillate so a consumer can tell live telemetry from frozen
		v.RPM = uint16(1200 + 200*math.Sin(float64(e.clock)/1000.0))
		v.Iq = 500 // 5.00 A
		v.Id = 200 // 2.00 A
	case fardriver.KindVoltage:
		v.Voltage = 900 // 90.0 V
	case fardriver.KindControllerTemp:
		v.ControllerTemp = 40
	case fardriver.KindMotorThrottle:
		v.MotorTemp = 50
		v.Throttle = 2048 // mid-scale
	}
	return v
}

func (e *Emulator) peerConnected(a eksr.Addr) {
	e.mu.Lock()
	e.attached++
	e.mu.Unlock()
	e.log.Info("consumer attached: ", a)
}

func (e *Emulator) peerDisconnected(a eksr.Addr) {
	e.mu.Lock()
	if e.attached > 0 {
		e.attached--
	}
	e.mu.Unlock()
	e.log.Info("consumer detached: ", a)
}
