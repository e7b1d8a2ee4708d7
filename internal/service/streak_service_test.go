package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(now time.Time, offsets ...int) []time.Time {
	out := make([]time.Time, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, now.AddDate(0, 0, off))
	}
	return out
}

func TestCalculateStreak(t *testing.T) {
	now := testNow

	tests := []struct {
		name    string
		ts      []time.Time
		current int
		longest int
	}{
		{"no practice", nil, 0, 0},
		{"today and two days before", days(now, 0, -1, -2), 3, 3},
		{"only two days ago", days(now, -2), 0, 1},
		{"yesterday grace window", days(now, -1, -2), 2, 2},
		{"gap breaks the run", days(now, 0, -1, -3, -4, -5), 2, 3},
		{"future days ignored", days(now, 1, 0), 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := CalculateStreak(tt.ts, now)
			assert.Equal(t, tt.current, snap.CurrentStreakDays)
			assert.Equal(t, tt.longest, snap.LongestStreakDays)
		})
	}
}

func TestCalculateStreakGraceExpires(t *testing.T) {
	ts := days(testNow, -1, -2)
	assert.Equal(t, 2, CalculateStreak(ts, testNow).CurrentStreakDays)
	assert.Equal(t, 0, CalculateStreak(ts, testNow.AddDate(0, 0, 1)).CurrentStreakDays)
}

func TestCalculateStreakIsPure(t *testing.T) {
	ts := days(testNow, 0, -1, -4)
	first := CalculateStreak(ts, testNow)
	second := CalculateStreak(ts, testNow)
	assert.Equal(t, first, second)
}

func TestCalculateStreakNormalizesTimeOfDay(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{
		today.Add(23*time.Hour + 59*time.Minute),
		today.Add(time.Minute),
		today,
		// 同一 UTC 日在 +08:00 下的表示
		time.Date(2026, 3, 10, 15, 30, 0, 0, time.FixedZone("CST", 8*3600)),
		today.AddDate(0, 0, -1).Add(18 * time.Hour),
	}
	snap := CalculateStreak(ts, today.Add(6*time.Hour))
	assert.Equal(t, 2, snap.CurrentStreakDays)
	assert.Equal(t, 2, snap.LongestStreakDays)
	require.NotNil(t, snap.LastPracticeDate)
	assert.True(t, snap.LastPracticeDate.Equal(today))
}

func TestStreakServicePersistsSnapshot(t *testing.T) {
	e := newTestEngine(t, fixedEntitlements{})
	ctx := context.Background()
	sec := e.section(t, "Algebra")

	unknown, err := e.streak.GetStreakData(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, unknown.CurrentStreakDays)

	e.clock.advanceDays(-2)
	e.submit(t, 1, sec.ID, 3, 5)
	e.clock.advanceDays(1)
	e.submit(t, 1, sec.ID, 3, 5)
	e.submit(t, 1, sec.ID, 4, 5)
	e.clock.advanceDays(1)
	e.submit(t, 1, sec.ID, 5, 5)

	state, err := e.streak.GetStreakData(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, state.CurrentStreakDays)
	assert.Equal(t, 3, state.LongestStreakDays)

	stored, err := e.streak.StreakRepo.FindByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentStreakDays)

	cal, err := e.streak.GetPracticeCalendar(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-08", "2026-03-09", "2026-03-10"}, cal.PracticeDates)
}
