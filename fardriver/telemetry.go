package fardriver

import (
	"math"
	"time"
)

// Drivetrain parameters of the reference vehicle, used by the derived
// speed figure when the caller has nothing better.
const (
	DefaultWheelCircumference = 1.350 // meters
	DefaultMotorRatio         = 4.0   // motor turns per wheel turn
)

// Telemetry is the accumulated logical state of one controller link. Each
// applied frame mutates only the fields owned by its kind; everything
// else keeps its last-known value, so staleness is visible only through
// LastUpdate. Telemetry is not goroutine-safe; the owning session
// serializes access.
type Telemetry struct {
	Values

	updated map[Kind]time.Time
	now     func() time.Time
}

// NewTelemetry returns an empty telemetry accumulator.
func NewTelemetry() *Telemetry {
	return &Telemetry{
		updated: make(map[Kind]time.Time),
		now:     time.Now,
	}
}

// Apply folds one decoded frame in. Frames of unknown kind only bump the
// kind's LastUpdate; their payloads are not interpreted.
func (t *Telemetry) Apply(f Frame) {
	for _, fs := range frameLayout[f.Kind] {
		t.Values.setField(fs.id, f.Values.field(fs.id))
	}
	t.updated[f.Kind] = t.now()
}

// LastUpdate returns when a frame of kind k was last applied, or the zero
// time if never.
func (t *Telemetry) LastUpdate(k Kind) time.Time {
	return t.updated[k]
}

// Snapshot returns a copy safe to hand across goroutines.
func (t *Telemetry) Snapshot() Telemetry {
	c := Telemetry{
		Values:  t.Values,
		updated: make(map[Kind]time.Time, len(t.updated)),
		now:     t.now,
	}
	for k, ts := range t.updated {
		c.updated[k] = ts
	}
	return c
}

// VoltageVolts returns the battery voltage in volts.
func (v Values) VoltageVolts() float64 { return float64(v.Voltage) / 10 }

// IqAmps returns the quadrature current in amperes.
func (v Values) IqAmps() float64 { return float64(v.Iq) / 100 }

// IdAmps returns the direct current in amperes.
func (v Values) IdAmps() float64 { return float64(v.Id) / 100 }

// PowerWatts returns the electrical power drawn from the battery,
// negative while driving and positive while regenerating, matching the
// sign convention of the reference display.
func (v Values) PowerWatts() float64 {
	iq, id := v.IqAmps(), v.IdAmps()
	p := -math.Sqrt(iq*iq+id*id) * v.VoltageVolts()
	if iq < 0 || id < 0 {
		p = -p
	}
	return p
}

// SpeedKPH derives road speed from motor rpm given the wheel
// circumference in meters and the motor-to-wheel ratio.
func (v Values) SpeedKPH(wheelCircumference, motorRatio float64) float64 {
	wheelRPM := float64(v.RPM) / motorRatio
	metersPerMinute := wheelRPM * wheelCircumference
	return metersPerMinute * 0.06
}
