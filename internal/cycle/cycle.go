// Package cycle defines the forecast cycle identifier and the timestamp
// keys used by the persistent ledgers.
package cycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	hourLayout   = "2006010215"
	minuteLayout = "200601021504"
	dayLayout    = "20060102"
)

// Step is the spacing between forecast cycles.
const Step = 6 * time.Hour

// ErrInvalidCycle is returned when a cycle identifier fails validation.
var ErrInvalidCycle = errors.New("invalid cycle identifier")

// ID is a forecast cycle identifier, YYYYMMDDHH in UTC. Lexicographic order
// of valid identifiers matches chronological order.
type ID string

// Parse validates s as a cycle identifier.
func Parse(s string) (ID, error) {
	if len(s) != len(hourLayout) {
		return "", fmt.Errorf("%w: %q must be 10 digits (YYYYMMDDHH)", ErrInvalidCycle, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q must be 10 digits (YYYYMMDDHH)", ErrInvalidCycle, s)
		}
	}
	t, err := time.ParseInLocation(hourLayout, s, time.UTC)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a calendar hour", ErrInvalidCycle, s)
	}
	return FromTime(t), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromTime truncates t to the hour and formats it as an ID.
func FromTime(t time.Time) ID {
	return ID(t.UTC().Format(hourLayout))
}

// Time returns the UTC instant of the cycle. An invalid ID yields the zero time.
func (id ID) Time() time.Time {
	t, err := time.ParseInLocation(hourLayout, string(id), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Hour returns the cycle hour (0-23).
func (id ID) Hour() int {
	return id.Time().Hour()
}

// Day returns the YYYYMMDD portion of the identifier.
func (id ID) Day() string {
	if len(id) < len(dayLayout) {
		return ""
	}
	return string(id[:len(dayLayout)])
}

// HH returns the two-digit hour.
func (id ID) HH() string {
	if len(id) != len(hourLayout) {
		return ""
	}
	return string(id[8:])
}

// Add returns the cycle offset by d.
func (id ID) Add(d time.Duration) ID {
	return FromTime(id.Time().Add(d))
}

// Before reports whether id is strictly earlier than other.
func (id ID) Before(other ID) bool {
	return id < other
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}

// Range returns the cycles in (from, to] spaced by step, oldest first.
func Range(from, to time.Time, step time.Duration) []ID {
	if step <= 0 {
		return nil
	}
	var ids []ID
	for t := to.UTC().Truncate(time.Hour); t.After(from); t = t.Add(-step) {
		ids = append(ids, FromTime(t))
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// Expand substitutes {ymd}, {hh} and {cycle} in tmpl.
func (id ID) Expand(tmpl string) string {
	return strings.NewReplacer("{ymd}", id.Day(), "{hh}", id.HH(), "{cycle}", string(id)).Replace(tmpl)
}
