package directory

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// filetimeEpoch is the zero point of directory timestamp attributes:
// 100-nanosecond ticks are counted from 1601-01-01 UTC.
var filetimeEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

const ticksPerSecond = 10_000_000

// decodeFileTime converts a raw pwdLastSet-style tick count into an absolute
// UTC timestamp. The arithmetic stays in whole seconds because a
// time.Duration cannot hold a 400-year span in nanoseconds.
func decodeFileTime(ticks int64) (time.Time, error) {
	if ticks <= 0 {
		return time.Time{}, fmt.Errorf("directory timestamp is unset (%d)", ticks)
	}

	seconds := ticks / ticksPerSecond
	nanos := (ticks % ticksPerSecond) * 100

	return time.Unix(filetimeEpoch.Unix()+seconds, nanos).UTC(), nil
}

// parsePasswordLastSet interprets the raw attribute value: structured
// generalized-time values are parsed directly, integer values are decoded as
// tick counts.
func parsePasswordLastSet(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("pwdLastSet attribute is empty")
	}

	if ticks, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return decodeFileTime(ticks)
	}

	// Some directory servers hand back a generalized time string instead of
	// raw ticks.
	if ts, err := time.Parse("20060102150405Z", raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized pwdLastSet value %q", raw)
}

// encodePassword produces the quoted UTF-16LE byte form the directory
// requires for unicodePwd modify operations.
func encodePassword(password string) (string, error) {
	utf16 := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	encoded, err := utf16.NewEncoder().String(`"` + password + `"`)
	if err != nil {
		return "", fmt.Errorf("encode password: %w", err)
	}
	return encoded, nil
}
