// Package fardriver implements the FarDriver controller telemetry frame
// format: fixed 16-byte records pushed over a BLE notification channel,
// byte 0 a constant header, byte 1 a kind discriminator and the remaining
// 14 bytes a kind-specific big-endian payload.
package fardriver

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// FrameLen is the exact length of every telemetry frame.
	FrameLen = 16
	// PayloadLen is the kind-specific region, bytes 2..15.
	PayloadLen = FrameLen - 2
	// Header is the constant sentinel at byte 0.
	Header = 0xAA
)

// Decode failures. Callers should compare with errors.Cause.
var (
	ErrWrongLength = errors.New("wrong frame length")
	ErrBadHeader   = errors.New("bad frame header")
)

// Kind discriminates which telemetry fields a frame's payload encodes.
type Kind byte

// Kinds with defined payload semantics. The controller emits more kinds
// than these; their payloads are preserved undecoded.
const (
	KindMotion         Kind = 0  // gear, rpm, iq, id
	KindVoltage        Kind = 1  // battery voltage
	KindControllerTemp Kind = 4  // controller temperature
	KindMotorThrottle  Kind = 13 // motor temperature, throttle position
)

// Known reports whether the payload layout of k is defined.
func (k Kind) Known() bool {
	_, ok := frameLayout[k]
	return ok
}

func (k Kind) String() string {
	switch k {
	case KindMotion:
		return "motion"
	case KindVoltage:
		return "voltage"
	case KindControllerTemp:
		return "controller-temp"
	case KindMotorThrottle:
		return "motor-throttle"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

type fieldID int

const (
	fieldGear fieldID = iota
	fieldRPM
	fieldIq
	fieldId
	fieldVoltage
	fieldControllerTemp
	fieldMotorTemp
	fieldThrottle
)

// fieldSpec places one logical field inside the 16-byte frame. Multi-byte
// fields are big-endian. A non-zero mask marks a sub-byte bitfield at
// shift within a single byte.
type fieldSpec struct {
	id     fieldID
	off    int
	width  int
	signed bool
	shift  uint
	mask   byte
}

// frameLayout is shared by Encode, Decode and Telemetry.Apply so the
// three can never disagree about where a field lives. Adding a kind is
// one table entry plus a Values field.
var frameLayout = map[Kind][]fieldSpec{
	KindMotion: {
		{id: fieldGear, off: 2, width: 1, shift: 2, mask: 0x03},
		{id: fieldRPM, off: 4, width: 2},
		{id: fieldIq, off: 8, width: 2, signed: true},
		{id: fieldId, off: 10, width: 2, signed: true},
	},
	KindVoltage: {
		{id: fieldVoltage, off: 2, width: 2},
	},
	KindControllerTemp: {
		{id: fieldControllerTemp, off: 2, width: 1, signed: true},
	},
	KindMotorThrottle: {
		{id: fieldMotorTemp, off: 2, width: 1, signed: true},
		{id: fieldThrottle, off: 4, width: 2},
	},
}

// Values holds the raw integer fields of all kinds in wire units:
// currents in centiamperes, voltage in decivolts, temperatures in whole
// degrees Celsius.
type Values struct {
	Gear           uint8  // 1..3
	RPM            uint16
	Iq             int16  // quadrature current, 0.01 A
	Id             int16  // direct current, 0.01 A
	Voltage        uint16 // 0.1 V
	ControllerTemp int8
	MotorTemp      int8
	Throttle       uint16
}

func (v *Values) field(id fieldID) int {
	switch id {
	case fieldGear:
		return int(v.Gear)
	case fieldRPM:
		return int(v.RPM)
	case fieldIq:
		return int(v.Iq)
	case fieldId:
		return int(v.Id)
	case fieldVoltage:
		return int(v.Voltage)
	case fieldControllerTemp:
		return int(v.ControllerTemp)
	case fieldMotorTemp:
		return int(v.MotorTemp)
	case fieldThrottle:
		return int(v.Throttle)
	}
	return 0
}

func (v *Values) setField(id fieldID, raw int) {
	switch id {
	case fieldGear:
		// the instrument only shows gears 1..3
		if raw < 1 {
			raw = 1
		} else if raw > 3 {
			raw = 3
		}
		v.Gear = uint8(raw)
	case fieldRPM:
		v.RPM = uint16(raw)
	case fieldIq:
		v.Iq = int16(raw)
	case fieldId:
		v.Id = int16(raw)
	case fieldVoltage:
		v.Voltage = uint16(raw)
	case fieldControllerTemp:
		v.ControllerTemp = int8(raw)
	case fieldMotorTemp:
		v.MotorTemp = int8(raw)
	case fieldThrottle:
		v.Throttle = uint16(raw)
	}
}

// Frame is one decoded telemetry frame. Payload always holds the raw
// bytes 2..15 so unknown kinds survive a decode/re-encode intact.
type Frame struct {
	Kind    Kind
	Values  Values
	Payload [PayloadLen]byte
}

// Known reports whether the frame's kind has defined field semantics.
func (f Frame) Known() bool { return f.Kind.Known() }

// Encode builds a 16-byte frame for k. Unused payload bytes are zero.
// Encoding an unknown kind is legal and yields an all-zero payload, the
// "no data available" frame.
func Encode(k Kind, v Values) [FrameLen]byte {
	var b [FrameLen]byte
	b[0] = Header
	b[1] = byte(k)
	for _, fs := range frameLayout[k] {
		// normalize through the same rules Decode applies, so an
		// out-of-range value never reaches the wire
		v.setField(fs.id, v.field(fs.id))
		raw := v.field(fs.id)
		if fs.mask != 0 {
			b[fs.off] |= (byte(raw) & fs.mask) << fs.shift
			continue
		}
		switch fs.width {
		case 1:
			b[fs.off] = byte(raw)
		case 2:
			b[fs.off] = byte(uint16(raw) >> 8)
			b[fs.off+1] = byte(uint16(raw))
		}
	}
	return b
}

// Decode parses b as one telemetry frame. It is a pure function of the 16
// input bytes: anything but exactly FrameLen bytes fails with
// ErrWrongLength, a byte 0 other than Header fails with ErrBadHeader, and
// an unrecognized kind decodes successfully with the payload preserved
// raw, since the protocol grows new kinds the consumer may not know yet.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) != FrameLen {
		return f, errors.Wrapf(ErrWrongLength, "got %d bytes", len(b))
	}
	if b[0] != Header {
		return f, errors.Wrapf(ErrBadHeader, "got 0x%02X", b[0])
	}
	f.Kind = Kind(b[1])
	copy(f.Payload[:], b[2:])
	for _, fs := range frameLayout[f.Kind] {
		var raw int
		if fs.mask != 0 {
			raw = int((b[fs.off] >> fs.shift) & fs.mask)
		} else {
			switch fs.width {
			case 1:
				if fs.signed {
					raw = int(int8(b[fs.off]))
				} else {
					raw = int(b[fs.off])
				}
			case 2:
				u := uint16(b[fs.off])<<8 | uint16(b[fs.off+1])
				if fs.signed {
					raw = int(int16(u))
				} else {
					raw = int(u)
				}
			}
		}
		f.Values.setField(fs.id, raw)
	}
	return f, nil
}

// KeepAlive returns the write packet the reference display sends to the
// controller every couple of seconds to keep the notification stream
// flowing. The caller owns the returned slice.
func KeepAlive() []byte {
	return []byte{0xAA, 0x13, 0xEC, 0x07, 0x01, 0xF1, 0xA2, 0x5D}
}
