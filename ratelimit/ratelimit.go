// Copyright 2025 Coinrank Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit paces outbound requests to the upstream listing service.
// The limiter enforces a minimum delay before each request and adapts it to
// throttling feedback: every throttling signal doubles the delay up to a
// ceiling, and a streak of successes brings it back down to the base.
package ratelimit

import (
	"context"
	"time"
)

// Default pacing parameters. The upstream enforces a much stricter ceiling
// than its published one when no API key is supplied, hence the two base
// tiers.
const (
	KeyedBaseDelay   = 4 * time.Second
	KeylessBaseDelay = 20 * time.Second

	DefaultMaxDelay    = 60 * time.Second
	DefaultResetStreak = 3
)

// Config holds the limiter parameters.
type Config struct {
	BaseDelay   time.Duration // delay after a healthy request
	MaxDelay    time.Duration // backoff ceiling
	ResetStreak int           // consecutive successes to return to base
}

// TierConfig returns the default Config for the given credential situation.
func TierConfig(hasCredential bool) Config {
	base := KeylessBaseDelay
	if hasCredential {
		base = KeyedBaseDelay
	}
	return Config{
		BaseDelay:   base,
		MaxDelay:    DefaultMaxDelay,
		ResetStreak: DefaultResetStreak,
	}
}

// Limiter implements the adaptive pacing. It is not safe for concurrent use;
// the collection loop is strictly sequential.
type Limiter struct {
	cfg     Config
	delay   time.Duration
	streak  int
	started bool

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// New creates a Limiter at the base delay. Zero or negative config values
// fall back to the defaults.
func New(cfg Config) *Limiter {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = KeylessBaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.ResetStreak <= 0 {
		cfg.ResetStreak = DefaultResetStreak
	}
	return &Limiter{cfg: cfg, delay: cfg.BaseDelay, sleep: sleepCtx}
}

// Acquire blocks for the current delay before permitting the next request.
// The very first request of a run is permitted immediately. Returns the
// context's error if it is canceled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	if !l.started {
		l.started = true
		return ctx.Err()
	}
	return l.sleep(ctx, l.delay)
}

// OnThrottled doubles the current delay up to the ceiling and interrupts any
// success streak. Timeouts are reported here as well: they back off like
// throttling, and not being real permits, they never count toward the streak.
func (l *Limiter) OnThrottled() {
	l.streak = 0
	l.delay *= 2
	if l.delay > l.cfg.MaxDelay {
		l.delay = l.cfg.MaxDelay
	}
}

// OnSuccess records a healthy request. After ResetStreak consecutive
// successes the delay returns to the base value.
func (l *Limiter) OnSuccess() {
	l.streak++
	if l.streak >= l.cfg.ResetStreak {
		l.delay = l.cfg.BaseDelay
	}
}

// Delay returns the delay the next Acquire will enforce.
func (l *Limiter) Delay() time.Duration { return l.delay }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
