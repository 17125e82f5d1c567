package util

import (
	"strconv"
	"time"
)

// Unix timestamps with more digits than this are read as milliseconds.
const maxUnixSecondsDigits = 10

// ParseTime accepts RFC3339, RFC3339Nano, a plain date (2006-01-02), unix
// seconds, or unix milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if len(s) > maxUnixSecondsDigits {
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// MillisRange converts optional from/to strings into an inclusive millisecond
// window. Empty bounds are open. ok is false when a non-empty bound does not parse.
func MillisRange(from, to string) (lo, hi int64, ok bool) {
	lo, hi = 0, int64(^uint64(0)>>1)
	if from != "" {
		t, parsed := ParseTime(from)
		if !parsed {
			return 0, 0, false
		}
		lo = t.UnixMilli()
	}
	if to != "" {
		t, parsed := ParseTime(to)
		if !parsed {
			return 0, 0, false
		}
		hi = t.UnixMilli()
	}
	return lo, hi, true
}
