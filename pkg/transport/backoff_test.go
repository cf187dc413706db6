package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, d := range want {
		require.Equal(t, d, b.Delay(attempt), "attempt %d", attempt)
	}
	require.Equal(t, 30*time.Second, b.Delay(200))
	require.Equal(t, time.Second, b.Delay(-3))
}

func TestBackoffBaseAboveMax(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: 30 * time.Second}
	require.Equal(t, 30*time.Second, b.Delay(0))
}
