// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrNegativeJitter is returned when a jitter ticker is created with a
// negative jitter factor.
var ErrNegativeJitter = errors.New("jitter must not be negative")

// JitterTicker delivers ticks spaced by a random interval drawn uniformly
// from [d*(1-jitter), d*(1+jitter)]. Clients poll the coordinator on such a
// ticker so that the timing of their requests does not link them together.
type JitterTicker struct {
	// C receives the ticks. Ticks are dropped if the reader is slow.
	C <-chan time.Time

	c        chan time.Time
	min, max int64

	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewJitterTicker starts a ticker around d with the given jitter factor.
// A factor of zero behaves like time.Ticker; a factor above one clamps the
// shortest interval to zero.
func NewJitterTicker(d time.Duration, jitter float64) (*JitterTicker, error) {
	min, max, err := jitterBounds(d, jitter)
	if err != nil {
		return nil, err
	}

	c := make(chan time.Time, 1)
	t := &JitterTicker{
		C:    c,
		c:    c,
		min:  min,
		max:  max,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run()

	return t, nil
}

// jitterBounds returns the shortest and longest interval of a ticker.
func jitterBounds(d time.Duration, jitter float64) (int64, int64, error) {
	if jitter < 0 {
		return 0, 0, ErrNegativeJitter
	}

	lo := math.Max(0, math.Floor(float64(d)*(1-jitter)))
	hi := math.Ceil(float64(d) * (1 + jitter))

	return int64(lo), int64(hi), nil
}

// Stop turns off the ticker. It is safe to call more than once.
func (t *JitterTicker) Stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
		<-t.done
	})
}

func (t *JitterTicker) run() {
	defer close(t.done)

	timer := time.NewTimer(t.next())
	defer timer.Stop()

	for {
		select {
		case now := <-timer.C:
			timer.Reset(t.next())

			select {
			case t.c <- now:
			default:
			}

		case <-t.quit:
			return
		}
	}
}

func (t *JitterTicker) next() time.Duration {
	if t.max == t.min {
		return time.Duration(t.min)
	}
	return time.Duration(rand.Int63n(t.max-t.min) + t.min) //nolint:gosec
}
