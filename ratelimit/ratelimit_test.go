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

package ratelimit

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLimiter(t *testing.T) {
	t.Parallel()

	// newRecorded returns a limiter whose sleeps are recorded, not performed.
	newRecorded := func(cfg Config) (*Limiter, *[]time.Duration) {
		l := New(cfg)
		var slept []time.Duration
		l.sleep = func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		}
		return l, &slept
	}

	cfg := Config{BaseDelay: 4 * time.Second, MaxDelay: 60 * time.Second, ResetStreak: 3}

	Convey("Acquire pacing", t, func() {
		ctx := context.Background()
		l, slept := newRecorded(cfg)

		Convey("first request is immediate", func() {
			So(l.Acquire(ctx), ShouldBeNil)
			So(*slept, ShouldBeEmpty)
		})

		Convey("subsequent requests wait the current delay", func() {
			So(l.Acquire(ctx), ShouldBeNil)
			So(l.Acquire(ctx), ShouldBeNil)
			So(l.Acquire(ctx), ShouldBeNil)
			So(*slept, ShouldResemble, []time.Duration{4 * time.Second, 4 * time.Second})
		})

		Convey("canceled context aborts the wait", func() {
			So(l.Acquire(ctx), ShouldBeNil)
			canceled, cancel := context.WithCancel(ctx)
			cancel()
			So(l.Acquire(canceled), ShouldNotBeNil)
		})
	})

	Convey("Backoff adaptation", t, func() {
		l, _ := newRecorded(cfg)

		Convey("throttling doubles the delay up to the ceiling", func() {
			So(l.Delay(), ShouldEqual, 4*time.Second)
			l.OnThrottled()
			So(l.Delay(), ShouldEqual, 8*time.Second)
			l.OnThrottled()
			l.OnThrottled()
			l.OnThrottled()
			So(l.Delay(), ShouldEqual, 60*time.Second) // 64s capped
			l.OnThrottled()
			So(l.Delay(), ShouldEqual, 60*time.Second)
		})

		Convey("a streak of successes resets to base", func() {
			l.OnThrottled()
			l.OnThrottled()
			So(l.Delay(), ShouldEqual, 16*time.Second)
			l.OnSuccess()
			l.OnSuccess()
			So(l.Delay(), ShouldEqual, 16*time.Second) // streak not complete
			l.OnSuccess()
			So(l.Delay(), ShouldEqual, 4*time.Second)
		})

		Convey("throttling interrupts the streak", func() {
			l.OnThrottled()
			l.OnSuccess()
			l.OnSuccess()
			l.OnThrottled() // streak progress discarded
			l.OnSuccess()
			l.OnSuccess()
			So(l.Delay(), ShouldEqual, 16*time.Second)
			l.OnSuccess()
			So(l.Delay(), ShouldEqual, 4*time.Second)
		})
	})

	Convey("TierConfig selects the base by credential presence", t, func() {
		So(TierConfig(true).BaseDelay, ShouldEqual, KeyedBaseDelay)
		So(TierConfig(false).BaseDelay, ShouldEqual, KeylessBaseDelay)
		So(TierConfig(true).MaxDelay, ShouldEqual, DefaultMaxDelay)
	})

	Convey("New falls back to defaults on zero config", t, func() {
		l := New(Config{})
		So(l.Delay(), ShouldEqual, KeylessBaseDelay)
	})
}
