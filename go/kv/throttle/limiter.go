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

	"golang.org/x/time/rate"
)

// limiter tracks the error rate of one client. It is a token bucket
// refilled at the delay threshold whose depth adds the error credit; every
// error takes a token even when the bucket is empty, so the deficit
// measures how far the client is over its allowance.
type limiter struct {
	rl        *rate.Limiter
	threshold float64
}

func newLimiter(threshold int, credit time.Duration, now time.Time) *limiter {
	burst := threshold + int(int64(threshold)*credit.Milliseconds()/1000)
	rl := rate.NewLimiter(rate.Limit(threshold), burst)
	// Anchor the bucket at now so an injected clock sees a full bucket.
	rl.SetBurstAt(now, burst)
	return &limiter{rl: rl, threshold: float64(threshold)}
}

// consumeOne records an error.
func (l *limiter) consumeOne(now time.Time) {
	l.rl.ReserveN(now, 1)
}

// hasCapacity reports whether the client is within its allowance.
func (l *limiter) hasCapacity(now time.Time) bool {
	return l.rl.TokensAt(now) >= 0
}

// currentRate is the client's error rate as a percentage of the delay
// threshold: 0 with a full bucket, 100 when it is empty.
func (l *limiter) currentRate(now time.Time) float64 {
	r := 100 * (l.threshold - l.rl.TokensAt(now)) / l.threshold
	if r < 0 {
		return 0
	}
	return r
}
