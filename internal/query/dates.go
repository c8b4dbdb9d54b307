package query

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// offsetRe matches a trailing relative offset such as -7d or +2M.
var offsetRe = regexp.MustCompile(`^(.*?)([+-])(\d+)([dwMy])$`)

const dateOnly = "2006-01-02"

// resolveDate turns a date expression into an instant. Accepted forms are
// "now", an ISO date, an RFC 3339 timestamp, each optionally followed by an
// offset like -7d, +2w, -1M or +1y.
//
// dayPrecision reports whether the base was a calendar date without a time
// of day.
func resolveDate(expr string, now time.Time) (t time.Time, dayPrecision bool, err error) {
	base, sign, amount, unit := expr, "", 0, byte(0)
	if m := offsetRe.FindStringSubmatch(expr); m != nil {
		if _, _, berr := parseBase(m[1], now); berr == nil {
			base, sign, unit = m[1], m[2], m[4][0]
			amount, err = strconv.Atoi(m[3])
			if err != nil {
				return time.Time{}, false, fmt.Errorf("invalid offset %q", m[2]+m[3]+m[4])
			}
		}
	}

	t, dayPrecision, err = parseBase(base, now)
	if err != nil {
		return time.Time{}, false, err
	}
	if unit == 0 {
		return t, dayPrecision, nil
	}
	if sign == "-" {
		amount = -amount
	}
	switch unit {
	case 'd':
		t = t.AddDate(0, 0, amount)
	case 'w':
		t = t.AddDate(0, 0, 7*amount)
	case 'M':
		t = t.AddDate(0, amount, 0)
	case 'y':
		t = t.AddDate(amount, 0, 0)
	}
	return t, dayPrecision, nil
}

func parseBase(s string, now time.Time) (time.Time, bool, error) {
	if s == "now" {
		return now.UTC(), false, nil
	}
	if t, err := time.Parse(dateOnly, s); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q", s)
}

// dateRange builds the range for a since: or until: filter. A day-precision
// until covers the whole of that day.
func dateRange(field, expr string, now time.Time) (*DateRange, error) {
	t, day, err := resolveDate(expr, now)
	if err != nil {
		return nil, err
	}
	r := &DateRange{Field: "updated_at"}
	switch field {
	case "since":
		r.From = &t
	case "until":
		if day {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		r.To = &t
	}
	return r, nil
}
