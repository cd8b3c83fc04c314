package model

import (
	"fmt"
	"strconv"
	"time"
)

// Durable timestamps are 64-bit UTC ticks: 100-ns units since year 1.
// The offset below is the tick count at the Unix epoch.
const unixEpochTicks int64 = 621355968000000000

// ToTicks converts a wall-clock time to ticks.
func ToTicks(t time.Time) int64 {
	return t.UTC().UnixNano()/100 + unixEpochTicks
}

// FromTicks converts ticks back to a UTC time.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, (ticks-unixEpochTicks)*100).UTC()
}

// DurationTicks converts a duration to ticks.
func DurationTicks(d time.Duration) int64 {
	return d.Nanoseconds() / 100
}

// TickKey renders a tick value as a fixed-width decimal string so the
// schedule map's lexicographic order equals numeric order.
func TickKey(ticks int64) string {
	return fmt.Sprintf("%020d", ticks)
}

// ParseTickKey is the inverse of TickKey.
func ParseTickKey(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}
