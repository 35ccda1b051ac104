package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allWeekdays() []int {
	return []int{1, 2, 3, 4, 5, 6, 7}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestIsEffective_DateRangeOrdered(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "03-01",
		DateTo:   "06-30",
		Weekdays: allWeekdays(),
		TimeFrom: "00:00",
		TimeTo:   "23:59",
	}

	inside, err := IsEffective(mustTime(t, "2026-04-15T12:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, inside)

	onStart, err := IsEffective(mustTime(t, "2026-03-01T00:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, onStart)

	outside, err := IsEffective(mustTime(t, "2026-07-01T12:00:00Z"), window)
	require.NoError(t, err)
	assert.False(t, outside)
}

func TestIsEffective_DateRangeWrapsYearBoundary(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "11-01",
		DateTo:   "02-28",
		Weekdays: allWeekdays(),
		TimeFrom: "00:00",
		TimeTo:   "23:59",
	}

	december, err := IsEffective(mustTime(t, "2026-12-25T12:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, december)

	january, err := IsEffective(mustTime(t, "2026-01-15T12:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, january)

	// The excluded zone is the gap strictly between end and start.
	june, err := IsEffective(mustTime(t, "2026-06-15T12:00:00Z"), window)
	require.NoError(t, err)
	assert.False(t, june)
}

func TestIsEffective_TimeRangeCrossesMidnight(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: allWeekdays(),
		TimeFrom: "23:00",
		TimeTo:   "07:00",
	}

	evening, err := IsEffective(mustTime(t, "2026-05-20T22:05:00Z"), window)
	require.NoError(t, err)
	assert.True(t, evening)

	// A full hour before the start is still outside.
	earlier, err := IsEffective(mustTime(t, "2026-05-20T22:00:00Z"), window)
	require.NoError(t, err)
	assert.False(t, earlier)

	earlyMorning, err := IsEffective(mustTime(t, "2026-05-20T03:30:00Z"), window)
	require.NoError(t, err)
	assert.True(t, earlyMorning)

	midday, err := IsEffective(mustTime(t, "2026-05-20T12:00:00Z"), window)
	require.NoError(t, err)
	assert.False(t, midday)
}

func TestIsEffective_TimeRangeSameDay(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: allWeekdays(),
		TimeFrom: "10:00",
		TimeTo:   "12:00",
	}

	before, err := IsEffective(mustTime(t, "2026-05-20T06:05:00Z"), window)
	require.NoError(t, err)
	assert.False(t, before)

	within, err := IsEffective(mustTime(t, "2026-05-20T11:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, within)

	// Bounds are inclusive at minute granularity.
	onEnd, err := IsEffective(mustTime(t, "2026-05-20T12:00:59Z"), window)
	require.NoError(t, err)
	assert.True(t, onEnd)
}

func TestIsEffective_WeekdayMembership(t *testing.T) {
	// 2026-05-24 is a Sunday, ISO weekday 7.
	sunday := mustTime(t, "2026-05-24T12:00:00Z")

	weekend := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: []int{6, 7},
		TimeFrom: "00:00",
		TimeTo:   "23:59",
	}
	ok, err := IsEffective(sunday, weekend)
	require.NoError(t, err)
	assert.True(t, ok)

	weekdaysOnly := weekend
	weekdaysOnly.Weekdays = []int{1, 2, 3, 4, 5}
	ok, err = IsEffective(sunday, weekdaysOnly)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsEffective_TimezoneShiftsLocalTime(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "Asia/Taipei",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: allWeekdays(),
		TimeFrom: "08:00",
		TimeTo:   "10:00",
	}

	// 01:00 UTC is 09:00 in Taipei.
	ok, err := IsEffective(mustTime(t, "2026-05-20T01:00:00Z"), window)
	require.NoError(t, err)
	assert.True(t, ok)

	// 09:00 UTC is 17:00 in Taipei.
	ok, err = IsEffective(mustTime(t, "2026-05-20T09:00:00Z"), window)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsEffective_InvalidTimezone(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "Not/AZone",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: allWeekdays(),
		TimeFrom: "00:00",
		TimeTo:   "23:59",
	}

	_, err := IsEffective(time.Now(), window)
	assert.Error(t, err)
}

func TestIsEffective_Idempotent(t *testing.T) {
	window := EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "11-01",
		DateTo:   "02-28",
		Weekdays: allWeekdays(),
		TimeFrom: "23:00",
		TimeTo:   "07:00",
	}
	now := mustTime(t, "2026-12-25T23:30:00Z")

	first, err := IsEffective(now, window)
	require.NoError(t, err)
	second, err := IsEffective(now, window)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseMonthDay(t *testing.T) {
	month, day, err := ParseMonthDay("02-29")
	require.NoError(t, err)
	assert.Equal(t, 2, month)
	assert.Equal(t, 29, day)

	_, _, err = ParseMonthDay("13-01")
	assert.Error(t, err)

	_, _, err = ParseMonthDay("0401")
	assert.Error(t, err)

	// Days past the month's calendar length are rejected, not normalized.
	_, _, err = ParseMonthDay("02-30")
	assert.Error(t, err)

	_, _, err = ParseMonthDay("04-31")
	assert.Error(t, err)

	_, _, err = ParseMonthDay("06-31")
	assert.Error(t, err)
}

func TestParseHourMinute(t *testing.T) {
	minutes, err := ParseHourMinute("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23*60+59, minutes)

	_, err = ParseHourMinute("24:00")
	assert.Error(t, err)

	_, err = ParseHourMinute("8am")
	assert.Error(t, err)
}
