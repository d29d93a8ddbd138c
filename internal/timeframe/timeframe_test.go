package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkhub/internal/timeframe"
)

func TestLastNDays(t *testing.T) {
	now := time.Date(2024, 3, 1, 17, 45, 0, 0, time.UTC)

	tests := []struct {
		name  string
		days  int
		first string
	}{
		{"single day", 1, "2024-03-01"},
		{"week crossing leap day", 7, "2024-02-24"},
		{"thirty days", 30, "2024-02-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := timeframe.LastNDays(now, tt.days)
			assert.Equal(t, tt.first, r.FirstKey())
			assert.Equal(t, "2024-03-01", r.LastKey())
			assert.Len(t, r.Days(), tt.days)
			assert.Equal(t, tt.days, r.Len())
		})
	}
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 30, timeframe.ClampDays(0, 30))
	assert.Equal(t, 30, timeframe.ClampDays(-4, 30))
	assert.Equal(t, 7, timeframe.ClampDays(7, 30))
	assert.Equal(t, 365, timeframe.ClampDays(9999, 30))
	assert.Equal(t, 1, timeframe.ClampDays(1, 30))
	assert.Equal(t, 30, timeframe.ClampDays(0, 0))
}

func TestDayRangeBounds(t *testing.T) {
	r, err := timeframe.ParseDayRange("2024-01-05", "2024-01-06")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), r.Start())
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), r.End())
	assert.Equal(t, 2, r.Len())

	_, err = timeframe.ParseDayRange("2024-01-06", "2024-01-05")
	assert.Error(t, err)
	_, err = timeframe.ParseDayRange("yesterday", "2024-01-05")
	assert.Error(t, err)
}
