package chore

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DueHour is the local hour every computed due date is anchored to.
// Completing a chore at any time of day yields a predictable wake time.
const DueHour = 5

// Interval specs look like "2 weeks": an integer, optional whitespace, a
// unit. The whole string must match; trailing garbage is rejected.
var intervalRe = regexp.MustCompile(`^(\d+)\s*(days?|weeks?|months?|years?)$`)

// NextDue computes the next due timestamp from a start time and an
// interval spec. Month and year are fixed offsets (30 and 365 days), not
// calendar-aware. The result is anchored to 05:00 in start's location.
//
// ok is false when the spec is empty or malformed; callers treat that as
// "no auto-rearm scheduled".
func NextDue(start time.Time, spec string) (time.Time, bool) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	m := intervalRe.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}

	var days int
	switch strings.TrimSuffix(m[2], "s") {
	case "day":
		days = n
	case "week":
		days = 7 * n
	case "month":
		days = 30 * n
	case "year":
		days = 365 * n
	default:
		return time.Time{}, false
	}

	due := start.AddDate(0, 0, days)
	y, mo, d := due.Date()
	return time.Date(y, mo, d, DueHour, 0, 0, 0, start.Location()), true
}
