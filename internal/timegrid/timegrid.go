// Package timegrid converts between HH:mm clock strings and minute offsets
// and generates the discrete slot boundaries of a working window.
package timegrid

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidFormat = errors.New("time must be in HH:mm format")
	ErrInvalidRange  = errors.New("end time must be after start time")
)

var hhmmPattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// ToMinutes parses a strict HH:mm string into minutes since midnight.
// Hours above 23 are accepted for end-of-day arithmetic; minutes are not.
func ToMinutes(hhmm string) (int, error) {
	m := hhmmPattern.FindStringSubmatch(hhmm)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, hhmm)
	}
	h := int(m[1][0]-'0')*10 + int(m[1][1]-'0')
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, hhmm)
	}
	return h*60 + mm, nil
}

// ToHHMM is the inverse of ToMinutes, zero-padded.
func ToHHMM(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// GenerateSlots returns the ordered slot start times between start and end,
// advancing by slotDuration while the full slot still fits before end.
func GenerateSlots(start, end string, slotDuration int) ([]string, error) {
	startM, err := ToMinutes(start)
	if err != nil {
		return nil, err
	}
	endM, err := ToMinutes(end)
	if err != nil {
		return nil, err
	}
	if endM <= startM {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start, end)
	}
	if slotDuration <= 0 {
		return nil, fmt.Errorf("slot duration must be positive, got %d", slotDuration)
	}

	var slots []string
	for cursor := startM; cursor+slotDuration <= endM; cursor += slotDuration {
		slots = append(slots, ToHHMM(cursor))
	}
	return slots, nil
}

// Overlaps reports whether the half-open minute intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
