// Package config loads instrument settings from an HCL file. Everything
// has a sane default; a missing file is not an error.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
)

type Config struct {
	BLE struct {
		ServiceUUID        string `hcl:"service_uuid"`
		CharacteristicUUID string `hcl:"characteristic_uuid"`
		ConnectTimeoutSec  int    `hcl:"connect_timeout_sec"`
		KeepAliveSec       int    `hcl:"keep_alive_sec"`
	} `hcl:"ble"`

	Retry struct {
		MaxAttempts   int     `hcl:"max_attempts"`
		BackoffMinMs  int     `hcl:"backoff_min_ms"`
		BackoffMaxMs  int     `hcl:"backoff_max_ms"`
		BackoffFactor float64 `hcl:"backoff_factor"`
		Jitter        bool    `hcl:"jitter"`
	} `hcl:"retry"`

	Emulator struct {
		Name     string `hcl:"name"`
		PeriodMs int    `hcl:"period_ms"`
	} `hcl:"emulator"`

	Serial struct {
		Port string `hcl:"port"`
		Baud int    `hcl:"baud"`
	} `hcl:"serial"`

	Vehicle struct {
		WheelCircumference float64 `hcl:"wheel_circumference"`
		MotorRatio         float64 `hcl:"motor_ratio"`
	} `hcl:"vehicle"`
}

// Load reads and parses path. A missing file yields the zero Config,
// i.e. all defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config %s", path)
	}
	if err := hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "can't parse config %s", path)
	}
	return c, nil
}

// SessionOptions translates the set fields into session options; unset
// fields keep the session defaults.
func (c *Config) SessionOptions() []eksr.Option {
	var opts []eksr.Option
	if c.BLE.ServiceUUID != "" {
		opts = append(opts, eksr.OptServiceUUID(eksr.UUID16(c.BLE.ServiceUUID)))
	}
	if c.BLE.CharacteristicUUID != "" {
		opts = append(opts, eksr.OptCharacteristicUUID(eksr.UUID16(c.BLE.CharacteristicUUID)))
	}
	if c.BLE.ConnectTimeoutSec > 0 {
		opts = append(opts, eksr.OptConnectTimeout(time.Duration(c.BLE.ConnectTimeoutSec)*time.Second))
	}
	if c.BLE.KeepAliveSec > 0 {
		opts = append(opts, eksr.OptKeepAlive(time.Duration(c.BLE.KeepAliveSec)*time.Second))
	}
	if c.Retry.MaxAttempts > 0 || c.Retry.BackoffMinMs > 0 || c.Retry.BackoffMaxMs > 0 {
		p := eksr.DefaultConfig().Retry
		p.MaxAttempts = c.Retry.MaxAttempts
		if c.Retry.BackoffMinMs > 0 {
			p.BackoffMin = time.Duration(c.Retry.BackoffMinMs) * time.Millisecond
		}
		if c.Retry.BackoffMaxMs > 0 {
			p.BackoffMax = time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
		}
		if c.Retry.BackoffFactor >= 1 {
			p.BackoffFactor = c.Retry.BackoffFactor
		}
		p.Jitter = c.Retry.Jitter
		opts = append(opts, eksr.OptRetryPolicy(p))
	}
	return opts
}
