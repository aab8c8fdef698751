package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
)

const sample = `
ble {
  service_uuid = "FFE5"
  characteristic_uuid = "FFE9"
  connect_timeout_sec = 10
  keep_alive_sec = 5
}

retry {
  max_attempts = 4
  backoff_min_ms = 250
  backoff_max_ms = 8000
  backoff_factor = 1.5
  jitter = true
}

emulator {
  name = "BenchDriver"
  period_ms = 50
}

serial {
  port = "/dev/ttyUSB1"
  baud = 115200
}

vehicle {
  wheel_circumference = 1.55
  motor_ratio = 4.2
}
`

func TestLoad(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "instrument.hcl")
	require.NoError(t, ioutil.WriteFile(fn, []byte(sample), 0644))

	c, err := Load(fn)
	require.NoError(t, err)

	require.Equal(t, "FFE5", c.BLE.ServiceUUID)
	require.Equal(t, "FFE9", c.BLE.CharacteristicUUID)
	require.Equal(t, 10, c.BLE.ConnectTimeoutSec)
	require.Equal(t, 4, c.Retry.MaxAttempts)
	require.Equal(t, 250, c.Retry.BackoffMinMs)
	require.Equal(t, 1.5, c.Retry.BackoffFactor)
	require.True(t, c.Retry.Jitter)
	require.Equal(t, "BenchDriver", c.Emulator.Name)
	require.Equal(t, 50, c.Emulator.PeriodMs)
	require.Equal(t, "/dev/ttyUSB1", c.Serial.Port)
	require.Equal(t, 115200, c.Serial.Baud)
	require.Equal(t, 1.55, c.Vehicle.WheelCircumference)
}

func TestLoadMissingFileIsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	require.Equal(t, &Config{}, c)
	require.Empty(t, c.SessionOptions())
}

func TestLoadBadSyntax(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, ioutil.WriteFile(fn, []byte("ble { service_uuid = "), 0644))
	_, err := Load(fn)
	require.Error(t, err)
}

func TestSessionOptions(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "instrument.hcl")
	require.NoError(t, ioutil.WriteFile(fn, []byte(sample), 0644))
	c, err := Load(fn)
	require.NoError(t, err)

	cfg := eksr.DefaultConfig()
	for _, o := range c.SessionOptions() {
		require.NoError(t, o(&cfg))
	}

	require.Equal(t, eksr.UUID16("FFE5"), cfg.ServiceUUID)
	require.Equal(t, eksr.UUID16("FFE9"), cfg.CharacteristicUUID)
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 5*time.Second, cfg.KeepAliveInterval)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BackoffMin)
	require.Equal(t, 8*time.Second, cfg.Retry.BackoffMax)
	require.Equal(t, 1.5, cfg.Retry.BackoffFactor)
}
