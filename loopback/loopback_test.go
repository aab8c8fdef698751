package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
	"github.com/C-broderick-225/EKSR-Instrument/emulator"
	"github.com/C-broderick-225/EKSR-Instrument/fardriver"
	"github.com/C-broderick-225/EKSR-Instrument/session"
)

func newLink() *Link {
	return New("aa:bb:cc:dd:ee:01", eksr.DefaultServiceUUID, eksr.DefaultCharacteristicUUID)
}

// Full pipeline: emulator advertises and notifies, session scans,
// connects, subscribes and folds.
func TestEndToEnd(t *testing.T) {
	link := newLink()

	emu, err := emulator.New(link, emulator.OptPeriod(2*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go emu.Run(ctx)

	s, err := session.New(link, eksr.OptKeepAlive(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().FramesDecoded >= 8 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, session.StateStreaming, s.State())
	require.GreaterOrEqual(t, s.Stats().FramesDecoded, uint64(8))

	tel := s.Telemetry()
	require.Equal(t, 90.0, tel.VoltageVolts())
	require.InDelta(t, 1200, int(tel.RPM), 200)
	require.False(t, tel.LastUpdate(fardriver.KindMotorThrottle).IsZero())

	// keep-alives reach the peripheral half
	for time.Now().Before(deadline) {
		if len(link.Writes()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	writes := link.Writes()
	require.NotEmpty(t, writes)
	require.Equal(t, fardriver.KeepAlive(), writes[0])
}

func TestLinkLossReconnects(t *testing.T) {
	link := newLink()

	emu, err := emulator.New(link, emulator.OptPeriod(2*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go emu.Run(ctx)

	s, err := session.New(link,
		eksr.OptKeepAlive(0),
		eksr.OptRetryPolicy(eksr.RetryPolicy{
			BackoffMin: time.Millisecond,
			BackoffMax: 2 * time.Millisecond,
		}))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	waitStreaming(t, s)
	link.DropLink()
	// the retry policy must bring the session back on its own
	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Reconnects < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	waitStreaming(t, s)
	require.GreaterOrEqual(t, s.Stats().Reconnects, uint64(1))
}

func TestDialWithoutAdvertiser(t *testing.T) {
	link := newLink()
	_, err := link.Dial(context.Background(), eksr.NewAddr("aa:bb:cc:dd:ee:01"), true)
	require.Error(t, err)
}

func waitStreaming(t *testing.T, s *session.Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == session.StateStreaming {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, session.StateStreaming, s.State())
}
