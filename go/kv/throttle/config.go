/*
Copyright 2026 The Kvgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package throttle

import (
	"time"

	"kvgate.io/kvgate/go/kv/kverrors"
)

// Config holds the throttle parameters.
type Config struct {
	// DelayThreshold is the sustained error rate per second a client may
	// reach before its error responses are delayed.
	DelayThreshold int
	// Delay is how long a delayed response is held.
	Delay time.Duration
	// DNRThreshold is the error rate per second past which error responses
	// are dropped. It must be at least DelayThreshold.
	DNRThreshold int
	// ErrorCredit lets a client burst DelayThreshold errors per second of
	// credit on top of the base rate.
	ErrorCredit time.Duration
	// LimiterCapacity bounds the number of clients tracked.
	LimiterCapacity int
	// LimiterIdle forgets a client after this long without errors.
	LimiterIdle time.Duration
	// PoolSize is the number of workers sending delayed responses.
	PoolSize int
	// StatsInterval is the reporting period of throttle stats.
	StatsInterval time.Duration
}

// DefaultConfig returns the default throttle parameters.
func DefaultConfig() Config {
	return Config{
		DelayThreshold:  5,
		Delay:           200 * time.Millisecond,
		DNRThreshold:    10,
		ErrorCredit:     time.Second,
		LimiterCapacity: 10000,
		LimiterIdle:     10 * time.Minute,
		PoolSize:        4,
		StatsInterval:   time.Minute,
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	switch {
	case c.DelayThreshold <= 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "error delay threshold must be positive, got %d", c.DelayThreshold)
	case c.DNRThreshold < c.DelayThreshold:
		return kverrors.Errorf(kverrors.InvalidArgument, "do-not-respond threshold (%d) must be at least the delay threshold (%d)", c.DNRThreshold, c.DelayThreshold)
	case c.Delay <= 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "error delay must be positive, got %v", c.Delay)
	case c.ErrorCredit < 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "error credit must not be negative, got %v", c.ErrorCredit)
	case c.LimiterCapacity <= 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "limiter capacity must be positive, got %d", c.LimiterCapacity)
	case c.LimiterIdle <= 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "limiter idle lifetime must be positive, got %v", c.LimiterIdle)
	case c.PoolSize <= 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "delay pool size must be positive, got %d", c.PoolSize)
	case c.StatsInterval < 0:
		return kverrors.Errorf(kverrors.InvalidArgument, "stats interval must not be negative, got %v", c.StatsInterval)
	}
	return nil
}

// dnrPercent is the DNR threshold as a percentage of the delay threshold.
func (c Config) dnrPercent() float64 {
	return float64(c.DNRThreshold) * 100 / float64(c.DelayThreshold)
}
