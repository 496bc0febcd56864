package meter_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/septivank/water-meter-relay/internal/meter"
)

func TestLiters(t *testing.T) {
	cases := []struct {
		count  int64
		factor float64
		want   float64
	}{
		{650, 650.0, 1.0},
		{0, 650.0, 0},
		{325, 650.0, 0.5},
		{1000, 450.5, 1000 / 450.5},
	}

	for _, tc := range cases {
		got := meter.Liters(tc.count, tc.factor)
		assert.InDelta(t, tc.want, got, 1e-9, "count=%d factor=%v", tc.count, tc.factor)
	}
}

func TestValidateFactor(t *testing.T) {
	assert.NoError(t, meter.ValidateFactor(meter.DefaultPulseToLiter))
	assert.Error(t, meter.ValidateFactor(0))
	assert.Error(t, meter.ValidateFactor(-1))
	assert.Error(t, meter.ValidateFactor(math.NaN()))
}

func TestIsOnline(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Second)
	edge := now.Add(-meter.DefaultOnlineThreshold)
	stale := now.Add(-2 * time.Minute)

	assert.False(t, meter.IsOnline(nil, now, meter.DefaultOnlineThreshold), "never seen")
	assert.True(t, meter.IsOnline(&recent, now, meter.DefaultOnlineThreshold))
	assert.False(t, meter.IsOnline(&edge, now, meter.DefaultOnlineThreshold), "threshold is exclusive")
	assert.False(t, meter.IsOnline(&stale, now, meter.DefaultOnlineThreshold))
}
