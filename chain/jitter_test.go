package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestJitterBounds tests the calculation of the min and max jitter values.
func TestJitterBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		jitter   float64
		min, max int64
		err      error
	}{
		{name: "no jitter", jitter: 0, min: 1000, max: 1000},
		{name: "half", jitter: 0.5, min: 500, max: 1500},
		{name: "one", jitter: 1, min: 0, max: 2000},
		{name: "above one", jitter: 1.5, min: 0, max: 2500},
		{name: "negative", jitter: -0.5, err: ErrNegativeJitter},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			min, max, err := jitterBounds(1000, tc.jitter)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.min, min)
			require.Equal(t, tc.max, max)
		})
	}

	_, err := NewJitterTicker(time.Second, -1)
	require.ErrorIs(t, err, ErrNegativeJitter)
}

// TestJitterTicker checks tick spacing stays within the jitter window.
func TestJitterTicker(t *testing.T) {
	t.Parallel()

	ticker, err := NewJitterTicker(100*time.Millisecond, 0.2)
	require.NoError(t, err)

	var ticks []time.Time
	for i := 0; i < 4; i++ {
		ticks = append(ticks, <-ticker.C)
	}

	ticker.Stop()
	ticker.Stop()

	for i := 1; i < len(ticks); i++ {
		diff := ticks[i].Sub(ticks[i-1])
		require.GreaterOrEqual(t, diff, 80*time.Millisecond)
		require.Less(t, diff, 150*time.Millisecond)
	}
}
