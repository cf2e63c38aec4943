package utils

import (
	"fmt"
	"time"
)

// julianUnixEpoch is the julian day number of 1970-01-01.
const julianUnixEpoch = 2440588

const secondsPerDay = 24 * 60 * 60

// JulianDay returns the julian day number of the calendar date of t.
// The clock time is ignored.
func JulianDay(t time.Time) int {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Unix()/secondsPerDay) + julianUnixEpoch
}

// JulianDate is the inverse of JulianDay.
func JulianDate(jd int) time.Time {
	return time.Unix(int64(jd-julianUnixEpoch)*secondsPerDay, 0).UTC()
}

// ParseJulianDate parses a calendar date in the given layout and
// returns its julian day number.
func ParseJulianDate(layout, value string) (int, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %v", value, err)
	}
	return JulianDay(t), nil
}
