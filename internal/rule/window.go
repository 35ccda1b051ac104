package rule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IsEffective reports whether now falls inside the rule's scheduling window.
// All three checks (date range, weekday set, time-of-day range) must pass.
// The same instant is reused for every check so a rule cannot straddle a
// midnight or year boundary mid-evaluation.
func IsEffective(now time.Time, e EffectiveAt) (bool, error) {
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return false, fmt.Errorf("failed to load timezone %q: %w", e.TimeZone, err)
	}
	local := now.In(loc)

	dateOK, err := effectiveDate(local, e.DateFrom, e.DateTo)
	if err != nil {
		return false, err
	}
	if !dateOK {
		return false, nil
	}

	if !effectiveWeekday(local, e.Weekdays) {
		return false, nil
	}

	timeOK, err := effectiveTime(local, e.TimeFrom, e.TimeTo)
	if err != nil {
		return false, err
	}
	return timeOK, nil
}

// effectiveDate compares day-of-year ordinals in the local year. A range
// whose start ordinal exceeds its end ordinal wraps the year boundary; the
// excluded zone is then the gap strictly between end and start.
func effectiveDate(local time.Time, from, to string) (bool, error) {
	fromMonth, fromDay, err := ParseMonthDay(from)
	if err != nil {
		return false, err
	}
	toMonth, toDay, err := ParseMonthDay(to)
	if err != nil {
		return false, err
	}

	year := local.Year()
	loc := local.Location()
	fromOrd := time.Date(year, time.Month(fromMonth), fromDay, 0, 0, 0, 0, loc).YearDay()
	toOrd := time.Date(year, time.Month(toMonth), toDay, 0, 0, 0, 0, loc).YearDay()
	nowOrd := local.YearDay()

	if fromOrd <= toOrd {
		return nowOrd >= fromOrd && nowOrd <= toOrd, nil
	}
	return !(nowOrd > toOrd && nowOrd < fromOrd), nil
}

func effectiveWeekday(local time.Time, weekdays []int) bool {
	iso := int(local.Weekday())
	if iso == 0 {
		iso = 7 // time.Sunday is 0, ISO Sunday is 7
	}
	for _, d := range weekdays {
		if d == iso {
			return true
		}
	}
	return false
}

// effectiveTime compares at minute granularity with both bounds inclusive;
// the end minute runs through its 59th second. From after to crosses
// midnight: the gap between to and from is excluded, but the partial hour
// leading into the start already counts as inside, so 22:05 is effective
// for a 23:00 to 07:00 window while 22:00 is not.
func effectiveTime(local time.Time, from, to string) (bool, error) {
	fromMin, err := ParseHourMinute(from)
	if err != nil {
		return false, err
	}
	toMin, err := ParseHourMinute(to)
	if err != nil {
		return false, err
	}

	nowMin := local.Hour()*60 + local.Minute()

	if fromMin <= toMin {
		return nowMin >= fromMin && nowMin <= toMin, nil
	}
	return !(nowMin > toMin && nowMin+60 <= fromMin), nil
}

// ParseMonthDay parses a "MM-DD" literal.
func ParseMonthDay(s string) (month, day int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid date %q: want MM-DD", s)
	}
	month, err = strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in date %q", s)
	}
	day, err = strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > daysInMonth(month) {
		return 0, 0, fmt.Errorf("invalid day in date %q", s)
	}
	return month, day, nil
}

// daysInMonth uses a leap year, so 02-29 is a valid date literal.
func daysInMonth(month int) int {
	return time.Date(2000, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseHourMinute parses an "HH:mm" literal into minutes since midnight.
func ParseHourMinute(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:mm", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in time %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in time %q", s)
	}
	return hour*60 + minute, nil
}
