package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSeasonality(t *testing.T) {
	series := []DailyPoint{
		{Date: "2024-03-04", Events: 10}, // Monday
		{Date: "2024-03-11", Events: 30}, // Monday
		{Date: "2024-03-05", Events: 5},  // Tuesday
		{Date: "2024-04-01", Events: 8},  // Monday
	}

	s := ComputeSeasonality(series)

	assert.InDelta(t, 16.0, s.WeeklyPattern["Monday"], 1e-9)
	assert.InDelta(t, 5.0, s.WeeklyPattern["Tuesday"], 1e-9)
	assert.Len(t, s.WeeklyPattern, 2, "empty weekdays are absent")
	_, ok := s.WeeklyPattern["Sunday"]
	assert.False(t, ok)

	assert.InDelta(t, 15.0, s.MonthlyPattern["March"], 1e-9)
	assert.InDelta(t, 8.0, s.MonthlyPattern["April"], 1e-9)
	assert.Len(t, s.MonthlyPattern, 2)
}

func TestComputeSeasonality_WithinBounds(t *testing.T) {
	series := []DailyPoint{
		{Date: "2024-01-01", Events: 3},
		{Date: "2024-01-02", Events: 90},
		{Date: "2024-01-08", Events: 12},
		{Date: "2024-01-09", Events: 1},
		{Date: "2024-01-15", Events: 44},
		{Date: "2024-02-05", Events: 7},
	}
	s := ComputeSeasonality(series)

	for _, pattern := range []map[string]float64{s.WeeklyPattern, s.MonthlyPattern} {
		for k, v := range pattern {
			assert.GreaterOrEqual(t, v, 1.0, k)
			assert.LessOrEqual(t, v, 90.0, k)
		}
	}
}

func TestComputeSeasonality_Empty(t *testing.T) {
	s := ComputeSeasonality(nil)
	assert.NotNil(t, s.WeeklyPattern)
	assert.Empty(t, s.WeeklyPattern)
	assert.Empty(t, s.MonthlyPattern)
}
