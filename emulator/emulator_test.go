package emulator

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
	"github.com/C-broderick-225/EKSR-Instrument/fardriver"
)

type fakePeripheral struct {
	mu           sync.Mutex
	advertising  bool
	name         string
	services     []eksr.UUID16
	notifies     [][]byte
	notifyErr    error
	onConnect    func(eksr.Addr)
	onDisconnect func(eksr.Addr)
}

func (p *fakePeripheral) AdvertiseNameAndServices(name string, uuids ...eksr.UUID16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertising = true
	p.name = name
	p.services = uuids
	return nil
}

func (p *fakePeripheral) StopAdvertising() error {
	p.mu.Lock()
	p.advertising = false
	p.mu.Unlock()
	return nil
}

func (p *fakePeripheral) Notify(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.notifies = append(p.notifies, append([]byte(nil), b...))
	return nil
}

func (p *fakePeripheral) setNotifyErr(err error) {
	p.mu.Lock()
	p.notifyErr = err
	p.mu.Unlock()
}

func (p *fakePeripheral) SetPeerHandlers(onConnected, onDisconnected func(eksr.Addr)) {
	p.onConnect = onConnected
	p.onDisconnect = onDisconnected
}

func (p *fakePeripheral) emitted() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.notifies))
	copy(out, p.notifies)
	return out
}

var peer = eksr.NewAddr("aa:bb:cc:dd:ee:02")

func TestNoEmissionWithoutConsumer(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.False(t, e.Tick())
	}
	require.Empty(t, p.emitted(), "frames buffered for a disconnected consumer")
}

func TestKindCycle(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	p.onConnect(peer)
	for i := 0; i < 8; i++ {
		require.True(t, e.Tick())
	}

	want := []fardriver.Kind{0, 1, 4, 13, 0, 1, 4, 13}
	got := make([]fardriver.Kind, 0, 8)
	for _, b := range p.emitted() {
		f, err := fardriver.Decode(b)
		require.NoError(t, err)
		got = append(got, f.Kind)
	}
	require.Equal(t, want, got)
}

func TestEmissionStopsOnDetach(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	p.onConnect(peer)
	require.True(t, e.Tick())
	p.onDisconnect(peer)
	require.False(t, e.Tick())
	require.Len(t, p.emitted(), 1)
}

func TestFailedNotifyRetriesSameKind(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	p.onConnect(peer)
	p.setNotifyErr(errors.New("congested"))
	require.False(t, e.Tick())
	require.False(t, e.Tick())
	p.setNotifyErr(nil)

	// the cursor must not have moved past the kinds that failed to send
	require.True(t, e.Tick())
	emitted := p.emitted()
	require.Len(t, emitted, 1)
	f, err := fardriver.Decode(emitted[0])
	require.NoError(t, err)
	require.Equal(t, fardriver.KindMotion, f.Kind)
}

func TestSynthesizedValuesArePlausible(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	p.onConnect(peer)
	for i := 0; i < 4; i++ {
		require.True(t, e.Tick())
	}

	tel := fardriver.NewTelemetry()
	for _, b := range p.emitted() {
		f, err := fardriver.Decode(b)
		require.NoError(t, err)
		tel.Apply(f)
	}

	require.InDelta(t, 1200, int(tel.RPM), 200)
	require.Equal(t, 90.0, tel.VoltageVolts())
	require.Equal(t, int8(40), tel.ControllerTemp)
	require.Equal(t, int8(50), tel.MotorTemp)
	require.Equal(t, uint16(2048), tel.Throttle)
	require.Equal(t, uint8(2), tel.Gear)
}

func TestRPMOscillates(t *testing.T) {
	p := &fakePeripheral{}
	e, err := New(p)
	require.NoError(t, err)

	p.onConnect(peer)
	// a motion frame every 4 ticks; run long enough for the sine to move
	seen := map[uint16]struct{}{}
	for i := 0; i < 400; i++ {
		require.True(t, e.Tick())
	}
	for _, b := range p.emitted() {
		f, err := fardriver.Decode(b)
		require.NoError(t, err)
		if f.Kind == fardriver.KindMotion {
			seen[f.Values.RPM] = struct{}{}
		}
	}
	require.Greater(t, len(seen), 1, "rpm frozen; consumers can't tell live from stale")
}
