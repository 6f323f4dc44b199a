package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCalculateMinMax tests the calculation of the min and max jitter values.
func TestCalculateMinMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration int64
		scaler   float64
		min, max int64
	}{
		{"scaler is 0", 1000, 0, 1000, 1000},
		{"scaler is 0.5", 1000, 0.5, 500, 1500},
		{"scaler is 1", 1000, 1, 0, 2000},
		{"scaler is greater than 1", 1000, 1.5, 0, 2500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			min, max := calculateMinMax(
				time.Duration(tc.duration), tc.scaler,
			)
			require.Equal(t, tc.min, min)
			require.Equal(t, tc.max, max)
		})
	}

	require.Panics(t, func() {
		calculateMinMax(time.Second, -0.5)
	})
}

func TestJitterTicker(t *testing.T) {
	t.Parallel()

	jt := NewJitterTicker(50*time.Millisecond, 0.2)

	// Nothing is delivered before Resume.
	select {
	case <-jt.Ticks():
		t.Fatal("tick before resume")
	case <-time.After(100 * time.Millisecond):
	}

	jt.Resume()
	jt.Resume()

	var tickTimes []time.Time
	for range 4 {
		select {
		case tick := <-jt.Ticks():
			tickTimes = append(tickTimes, tick)
		case <-time.After(5 * time.Second):
			t.Fatal("no tick")
		}
	}

	for i := 1; i < len(tickTimes); i++ {
		diff := tickTimes[i].Sub(tickTimes[i-1])
		require.GreaterOrEqual(t, diff, 40*time.Millisecond)
	}

	jt.Pause()

	// Drain a tick that may have raced the pause, then expect silence.
	select {
	case <-jt.Ticks():
	default:
	}
	select {
	case <-jt.Ticks():
		t.Fatal("tick while paused")
	case <-time.After(150 * time.Millisecond):
	}

	jt.Resume()
	select {
	case <-jt.Ticks():
	case <-time.After(5 * time.Second):
		t.Fatal("no tick after resume")
	}
	jt.Stop()
	jt.Stop()
}
