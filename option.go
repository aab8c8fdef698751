package eksr

import (
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy decides what happens after a session lands in the
// Disconnected state. MaxAttempts of 0 means retry forever, which matches
// the reference display's behavior of always restarting the scan.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
	Jitter        bool
}

// Config carries the tunables of one consumer session. Zero values are
// filled in with the reference deployment defaults by DefaultConfig.
type Config struct {
	ServiceUUID        UUID16
	CharacteristicUUID UUID16

	// ConnectTimeout bounds one transport connect attempt. The scan itself
	// is never bounded here; 0 = scan forever.
	ConnectTimeout time.Duration

	// KeepAliveInterval is the period of the keep-alive write while
	// streaming. 0 disables the keep-alive.
	KeepAliveInterval time.Duration

	Retry RetryPolicy

	Logger Logger
}

// DefaultConfig returns the configuration matching the reference
// instrument: FFE0/FFEC, a 30 second connect bound and a 2 second
// keep-alive, retrying forever with a short backoff.
func DefaultConfig() Config {
	return Config{
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
		ConnectTimeout:     30 * time.Second,
		KeepAliveInterval:  2 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts:   0,
			BackoffMin:    500 * time.Millisecond,
			BackoffMax:    5 * time.Second,
			BackoffFactor: 2,
			Jitter:        true,
		},
		Logger: GetLogger(),
	}
}

// An Option is a configuration function, which configures a session.
type Option func(*Config) error

// OptServiceUUID overrides the telemetry service UUID.
func OptServiceUUID(u UUID16) Option {
	return func(c *Config) error {
		if len(u) == 0 {
			return errors.New("empty service uuid")
		}
		c.ServiceUUID = u
		return nil
	}
}

// OptCharacteristicUUID overrides the telemetry characteristic UUID.
func OptCharacteristicUUID(u UUID16) Option {
	return func(c *Config) error {
		if len(u) == 0 {
			return errors.New("empty characteristic uuid")
		}
		c.CharacteristicUUID = u
		return nil
	}
}

// OptConnectTimeout bounds a single connect attempt.
func OptConnectTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return errors.New("negative connect timeout")
		}
		c.ConnectTimeout = d
		return nil
	}
}

// OptKeepAlive sets the keep-alive write period, 0 to disable.
func OptKeepAlive(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return errors.New("negative keep-alive interval")
		}
		c.KeepAliveInterval = d
		return nil
	}
}

// OptRetryPolicy overrides the reconnect policy.
func OptRetryPolicy(p RetryPolicy) Option {
	return func(c *Config) error {
		if p.BackoffFactor < 1 && p.BackoffFactor != 0 {
			return errors.New("backoff factor < 1")
		}
		c.Retry = p
		return nil
	}
}

// OptLogger sets the logger used by the session.
func OptLogger(l Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return errors.New("nil logger")
		}
		c.Logger = l
		return nil
	}
}
