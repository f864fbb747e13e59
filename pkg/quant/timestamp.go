package quant

import (
	"fmt"
	"time"
)

// TimeStamp is a unix timestamp in seconds.
type TimeStamp int64

// MaxTimeStamp is the last second the calendar helpers accept (2038-01-19).
const MaxTimeStamp TimeStamp = 2147483647

// Representable reports whether t can be turned into a calendar date.
func (t TimeStamp) Representable() bool {
	return t >= 0 && t <= MaxTimeStamp
}

// Time converts t to UTC. ok is false when t is outside the representable range.
func (t TimeStamp) Time() (time.Time, bool) {
	if !t.Representable() {
		return time.Time{}, false
	}
	return time.Unix(int64(t), 0).UTC(), true
}

// String formats t for logs, falling back to the raw number.
func (t TimeStamp) String() string {
	if tm, ok := t.Time(); ok {
		return tm.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("ts:%d", int64(t))
}

// FromTime converts a time.Time into a TimeStamp.
func FromTime(tm time.Time) TimeStamp {
	return TimeStamp(tm.Unix())
}
