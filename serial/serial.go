// Package serial reads the FarDriver frame stream from a UART. The BLE
// module on the controller is a transparent serial bridge, so a wired
// bench rig sees the same 16-byte frames on the port that a central sees
// as notifications; this source re-syncs on the frame header and hands
// whole frames to the same handler signature the BLE path uses.
package serial

import (
	"io"
	"sync"

	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
	"github.com/C-broderick-225/EKSR-Instrument/fardriver"
)

// DefaultBaudRate is the rate the stock BLE bridge runs its UART at.
const DefaultBaudRate = 19200

// Source delivers telemetry frames read from a serial port.
type Source struct {
	sp  io.ReadWriteCloser
	log eksr.Logger

	mu     sync.Mutex
	h      eksr.NotificationHandler
	buf    []byte
	closed bool
}

// Open opens the port and starts reading. Use baud 0 for the default.
func Open(port string, baud uint) (*Source, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	sp, err := goserial.Open(goserial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", port)
	}

	s := newSource(sp)
	go s.rxLoop()
	return s, nil
}

func newSource(sp io.ReadWriteCloser) *Source {
	return &Source{
		sp:  sp,
		log: eksr.GetLogger().ChildLogger(map[string]interface{}{"src": "serial"}),
		buf: make([]byte, 0, 4*fardriver.FrameLen),
	}
}

// Subscribe registers h for whole frames. Bytes read before Subscribe
// are discarded.
func (s *Source) Subscribe(h eksr.NotificationHandler) {
	s.mu.Lock()
	s.h = h
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Write sends b to the controller, e.g. the keep-alive packet.
func (s *Source) Write(b []byte) error {
	_, err := s.sp.Write(b)
	return errors.Wrap(err, "serial write")
}

// Close stops the read loop and closes the port.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.sp.Close()
}

func (s *Source) rxLoop() {
	b := make([]byte, 256)
	for {
		n, err := s.sp.Read(b)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("serial read: ", err)
			}
			return
		}
		s.assemble(b[:n])
	}
}

// assemble buffers raw bytes and emits whole frames. A byte that is not
// the header while we are waiting for frame start is line noise and is
// skipped.
func (s *Source) assemble(b []byte) {
	s.mu.Lock()
	if s.h == nil {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, b...)

	var out [][]byte
	for {
		// resync to the frame header
		i := 0
		for i < len(s.buf) && s.buf[i] != fardriver.Header {
			i++
		}
		if i > 0 {
			s.log.Debugf("skipping %d bytes of noise", i)
			s.buf = s.buf[i:]
		}
		if len(s.buf) < fardriver.FrameLen {
			break
		}
		f := make([]byte, fardriver.FrameLen)
		copy(f, s.buf[:fardriver.FrameLen])
		s.buf = s.buf[fardriver.FrameLen:]
		out = append(out, f)
	}
	h := s.h
	s.mu.Unlock()

	for _, f := range out {
		h(f)
	}
}
