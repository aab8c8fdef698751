package session

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestManagerSlotLimit(t *testing.T) {
	m := NewManager(2)

	s1, err := m.NewSession(&fakeCentral{})
	require.NoError(t, err)
	s2, err := m.NewSession(&fakeCentral{})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	_, err = m.NewSession(&fakeCentral{})
	require.Equal(t, ErrNoFreeSlot, err)

	s1.Stop()
	require.Equal(t, 1, m.Len())

	s3, err := m.NewSession(&fakeCentral{})
	require.NoError(t, err)

	s2.Stop()
	s3.Stop()
	require.Equal(t, 0, m.Len())
}

func TestManagerDefaultLimit(t *testing.T) {
	m := NewManager(0)
	ss := make([]*Session, 0, DefaultMaxSessions)
	for i := 0; i < DefaultMaxSessions; i++ {
		s, err := m.NewSession(&fakeCentral{})
		require.NoError(t, err)
		ss = append(ss, s)
	}
	_, err := m.NewSession(&fakeCentral{})
	require.Equal(t, ErrNoFreeSlot, err)
	for _, s := range ss {
		s.Stop()
	}
}

func TestManagerReleasesSlotOnGiveUp(t *testing.T) {
	m := NewManager(1)
	fc := &fakeCentral{dialErr: errRefused}
	s, err := m.NewSession(fc, noRetry())
	require.NoError(t, err)

	fc.deliver(matchingAdv)
	waitState(t, s, StateIdle)

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 0, m.Len(), "slot not released after retry budget exhausted")
}

func TestManagerStopAll(t *testing.T) {
	m := NewManager(0)
	for i := 0; i < 2; i++ {
		_, err := m.NewSession(&fakeCentral{})
		require.NoError(t, err)
	}
	m.StopAll()
	require.Equal(t, 0, m.Len())
}

var errRefused = errors.New("refused")
