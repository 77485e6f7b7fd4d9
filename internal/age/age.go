// Package age renders millisecond instants and durations as compact
// human-readable ages ("2d 4h", "1m 1s", "in 3h").
package age

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxFields caps the number of unit tokens in the output.
const maxFields = 2

// FormatError reports a value that cannot be interpreted as an instant
// or duration.
type FormatError struct {
	Value any
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("age: only integers and date-like values are understood, got %T", e.Value)
}

// Format renders value as an age relative to now. Accepted values are
// integer millisecond instants/durations, time.Time, and nil. Zero and nil
// yield an empty string rather than an error.
func Format(value any, now time.Time) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case int:
		return FormatMillis(int64(v), now), nil
	case int32:
		return FormatMillis(int64(v), now), nil
	case int64:
		return FormatMillis(v, now), nil
	case float64:
		if v != float64(int64(v)) {
			return "", &FormatError{Value: value}
		}
		return FormatMillis(int64(v), now), nil
	case time.Time:
		if v.IsZero() {
			return "", nil
		}
		return FormatMillis(v.UnixMilli(), now), nil
	default:
		return "", &FormatError{Value: value}
	}
}

// FormatMillis renders a millisecond instant as an age relative to now.
// Zero yields an empty string. Future instants are prefixed with "in ".
func FormatMillis(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	return FormatDuration(now.UnixMilli() - ms)
}

// FormatDuration renders a millisecond delta as an age. Negative deltas are
// rendered as a future age with an "in " prefix. Sub-second deltas yield an
// empty string (units below one second are truncated, not rounded).
func FormatDuration(deltaMillis int64) string {
	prefix := ""
	if deltaMillis < 0 {
		prefix = "in "
		deltaMillis = -deltaMillis
	}

	remaining := time.Duration(deltaMillis) * time.Millisecond
	units := []struct {
		suffix string
		span   time.Duration
	}{
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	}

	var fields []string
	for _, unit := range units {
		if len(fields) >= maxFields {
			break
		}
		n := remaining / unit.span
		if n <= 0 {
			continue
		}
		remaining -= n * unit.span
		fields = append(fields, strconv.FormatInt(int64(n), 10)+unit.suffix)
	}

	if len(fields) == 0 {
		return ""
	}
	return prefix + strings.Join(fields, " ")
}
