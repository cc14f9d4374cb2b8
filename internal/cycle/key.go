package cycle

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedKey is matched by every MalformedKeyError.
var ErrMalformedKey = errors.New("malformed timestamp key")

// MalformedKeyError reports a ledger key that does not decode to a valid
// timestamp of the expected granularity.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed timestamp key %q: %s", e.Key, e.Reason)
}

func (e *MalformedKeyError) Unwrap() error {
	return ErrMalformedKey
}

// Granularity is the resolution of a timestamp key.
type Granularity int

const (
	// Hourly keys are YYYYMMDDHH.
	Hourly Granularity = iota
	// Minutely keys are YYYYMMDDHHMM.
	Minutely
)

func (g Granularity) layout() string {
	if g == Minutely {
		return minuteLayout
	}
	return hourLayout
}

// Len returns the number of digits in a key of this granularity.
func (g Granularity) Len() int {
	return len(g.layout())
}

// Format renders t as a key.
func (g Granularity) Format(t time.Time) string {
	return t.UTC().Format(g.layout())
}

func (g Granularity) String() string {
	if g == Minutely {
		return "minute"
	}
	return "hour"
}

// DecodeKey parses key at granularity g.
func DecodeKey(key string, g Granularity) (time.Time, error) {
	if len(key) != g.Len() {
		return time.Time{}, &MalformedKeyError{Key: key, Reason: fmt.Sprintf("want %d digits for %s key", g.Len(), g)}
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return time.Time{}, &MalformedKeyError{Key: key, Reason: "non-digit character"}
		}
	}
	t, err := time.ParseInLocation(g.layout(), key, time.UTC)
	if err != nil || t.Format(g.layout()) != key {
		return time.Time{}, &MalformedKeyError{Key: key, Reason: "not a calendar time"}
	}
	return t, nil
}

// MinuteKey returns the minute key at the top of the cycle hour, YYYYMMDDHH00.
func (id ID) MinuteKey() string {
	return string(id) + "00"
}
