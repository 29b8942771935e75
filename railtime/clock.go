package railtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedTime = errors.New("malformed time")

const day = 24 * 60 * 60

// Time of day, in seconds past midnight. Always in [0, 86400).
type Clock int32

// A Clock that may be absent, in the manner of sql.NullTime.
type NullClock struct {
	Clock Clock
	Valid bool
}

func Some(c Clock) NullClock {
	return NullClock{Clock: c, Valid: true}
}

func NewClock(hour, minute, second int) Clock {
	return Clock(((hour*60+minute)*60 + second) % day)
}

func (c Clock) Hour() int   { return int(c) / 3600 }
func (c Clock) Minute() int { return int(c) / 60 % 60 }
func (c Clock) Second() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// Adds d, wrapping around midnight.
func (c Clock) Add(d time.Duration) Clock {
	s := (int64(c) + int64(d/time.Second)) % day
	if s < 0 {
		s += day
	}
	return Clock(s)
}

// Signed difference c - o, taking the interpretation closest to
// zero. Result is in (-12h, +12h].
func (c Clock) Sub(o Clock) time.Duration {
	diff := int64(c) - int64(o)
	if diff > day/2 {
		diff -= day
	} else if diff <= -day/2 {
		diff += day
	}
	return time.Duration(diff) * time.Second
}

// The instant this clock time occurs on the given calendar date in
// London.
func (c Clock) On(date time.Time) time.Time {
	d := date.In(London)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, London)
}

func (n NullClock) String() string {
	if !n.Valid {
		return ""
	}
	return n.Clock.String()
}

func (n NullClock) Add(d time.Duration) NullClock {
	if !n.Valid {
		return n
	}
	return Some(n.Clock.Add(d))
}

// Parses a 4 digit CIF time HHMM, optionally suffixed by 'H' for an
// extra half minute. Hour must be 0-23.
func ParseCIF(s string) (Clock, error) {
	c, offset, err := parseCIF(s, 23)
	if err != nil {
		return 0, err
	}
	if offset != 0 {
		return 0, fmt.Errorf("%w: hour out of range in '%s'", ErrMalformedTime, s)
	}
	return c, nil
}

// Like ParseCIF, but accepts hours 24-27 for services running past
// midnight. Returns the normalized clock and a day offset (0 or 1).
func ParseCIFExtended(s string) (Clock, int, error) {
	return parseCIF(s, 27)
}

func parseCIF(s string, maxHour int) (Clock, int, error) {
	raw := strings.TrimSpace(s)
	half := false
	if strings.HasSuffix(raw, "H") || strings.HasSuffix(raw, "h") {
		half = true
		raw = raw[:len(raw)-1]
	}
	if len(raw) != 4 {
		return 0, 0, fmt.Errorf("%w: expected HHMM in '%s'", ErrMalformedTime, s)
	}
	h, err := strconv.Atoi(raw[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: non-integer hour in '%s'", ErrMalformedTime, s)
	}
	m, err := strconv.Atoi(raw[2:])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: non-integer minute in '%s'", ErrMalformedTime, s)
	}
	sec := 0
	if half {
		sec = 30
	}
	return build(s, h, m, sec, maxHour)
}

// Parses HH:MM or HH:MM:SS, as well as the CIF forms accepted by
// ParseCIF. Hour must be 0-23.
func Parse(s string) (Clock, error) {
	c, offset, err := parse(s, 23)
	if err != nil {
		return 0, err
	}
	if offset != 0 {
		return 0, fmt.Errorf("%w: hour out of range in '%s'", ErrMalformedTime, s)
	}
	return c, nil
}

// Like Parse, but accepts hours 24-27.
func ParseExtended(s string) (Clock, int, error) {
	return parse(s, 27)
}

func parse(s string, maxHour int) (Clock, int, error) {
	raw := strings.TrimSpace(s)
	if !strings.Contains(raw, ":") {
		return parseCIF(raw, maxHour)
	}

	split := strings.Split(raw, ":")
	if len(split) != 2 && len(split) != 3 {
		return 0, 0, fmt.Errorf("%w: found %d parts in '%s'", ErrMalformedTime, len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		if len(str) != 2 {
			return 0, 0, fmt.Errorf("%w: bad field %d in '%s'", ErrMalformedTime, i, s)
		}
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: non-integer in '%s' pos %d", ErrMalformedTime, s, i)
		}
		hms[i] = j
	}

	return build(s, hms[0], hms[1], hms[2], maxHour)
}

func build(s string, h, m, sec, maxHour int) (Clock, int, error) {
	if h < 0 || h > maxHour {
		return 0, 0, fmt.Errorf("%w: invalid hour in '%s'", ErrMalformedTime, s)
	}
	if m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in '%s'", ErrMalformedTime, s)
	}
	if sec < 0 || sec > 59 {
		return 0, 0, fmt.Errorf("%w: invalid second in '%s'", ErrMalformedTime, s)
	}

	offset := 0
	if h >= 24 {
		offset = 1
		h -= 24
	}
	return NewClock(h, m, sec), offset, nil
}

// Parses a stored HH:MM:SS time, returning an invalid NullClock for
// the empty string.
func ParseNull(s string) (NullClock, error) {
	if strings.TrimSpace(s) == "" {
		return NullClock{}, nil
	}
	c, err := Parse(s)
	if err != nil {
		return NullClock{}, err
	}
	return Some(c), nil
}
