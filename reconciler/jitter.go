package reconciler

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// JitterTicker is a ticker.Ticker whose interval is drawn uniformly from
// [d*(1-scaler), d*(1+scaler)] before every tick. It drives the periodic peer
// pool restart so that many daemons do not reconnect in lockstep.
type JitterTicker struct {
	// c is the internal channel that receives ticks.
	c chan time.Time

	// duration is the base duration of the ticker.
	duration time.Duration

	// min and max bound the drawn interval.
	min int64
	max int64

	mu     sync.Mutex
	pause  chan struct{}
	active bool
	wg     sync.WaitGroup
}

// A compile time check to ensure JitterTicker implements ticker.Ticker.
var _ ticker.Ticker = (*JitterTicker)(nil)

// NewJitterTicker returns a paused JitterTicker. A scaler of zero makes it a
// plain ticker. It panics on a negative scaler.
func NewJitterTicker(d time.Duration, scaler float64) *JitterTicker {
	min, max := calculateMinMax(d, scaler)

	return &JitterTicker{
		c:        make(chan time.Time, 1),
		duration: d,
		min:      min,
		max:      max,
	}
}

// calculateMinMax calculates the min and max duration values. If the
// calculated min is negative, it will be set to 0.
func calculateMinMax(d time.Duration, scaler float64) (int64, int64) {
	if scaler < 0 {
		panic(errors.New("scaler must be positive"))
	}

	min := math.Floor(float64(d) * (1 - scaler))
	max := math.Ceil(float64(d) * (1 + scaler))

	// If the scaler is greater than 1, we would use a zero min instead of
	// a negative one.
	if 1-scaler < 0 {
		min = 0
	}

	return int64(min), int64(max)
}

// Ticks returns the channel ticks are delivered on.
func (jt *JitterTicker) Ticks() <-chan time.Time {
	return jt.c
}

// Resume starts or resumes delivering ticks.
func (jt *JitterTicker) Resume() {
	jt.mu.Lock()
	defer jt.mu.Unlock()

	if jt.active {
		return
	}
	jt.active = true
	jt.pause = make(chan struct{})

	jt.wg.Add(1)
	go jt.run(jt.pause)
}

// Pause suspends tick delivery until Resume is called. It returns once the
// timer goroutine is gone.
func (jt *JitterTicker) Pause() {
	jt.mu.Lock()
	if !jt.active {
		jt.mu.Unlock()
		return
	}
	jt.active = false
	close(jt.pause)
	jt.mu.Unlock()

	jt.wg.Wait()
}

// Stop stops the ticker. It can be resumed afterwards like a paused one.
func (jt *JitterTicker) Stop() {
	jt.Pause()
}

func (jt *JitterTicker) run(pause <-chan struct{}) {
	defer jt.wg.Done()

	timer := time.NewTimer(jt.rand())
	defer timer.Stop()

	for {
		select {
		case t := <-timer.C:
			timer.Reset(jt.rand())

			// NOTE: must be non-blocking.
			select {
			case jt.c <- t:
			default:
			}

		case <-pause:
			return
		}
	}
}

// rand returns a random duration between the min and max values.
func (jt *JitterTicker) rand() time.Duration {
	if jt.max == jt.min {
		return jt.duration
	}

	d := rand.Int63n(jt.max-jt.min) + jt.min //nolint:gosec
	return time.Duration(d)
}
