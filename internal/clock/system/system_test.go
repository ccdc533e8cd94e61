package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockIsUTC(t *testing.T) {
	t.Parallel()

	now := New().Now()
	require.Equal(t, time.UTC, now.Location())
	require.WithinDuration(t, time.Now(), now, time.Second)
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)
	require.Equal(t, start, m.Now())
	m.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), m.Now())
}
