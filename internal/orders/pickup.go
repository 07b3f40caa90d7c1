package orders

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PrepBuffer is subtracted from the pickup time to get the estimated ready time.
const PrepBuffer = 15 * time.Minute

const (
	pickupDateLayout  = "2006-01-02"
	pickupClockLayout = "3:04 PM"
)

// ErrInvalidPickup is returned when a pickup date or time cannot be parsed.
var ErrInvalidPickup = errors.New("orders: invalid pickup time")

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*([AaPp][Mm])$`)

// ParsePickup combines a YYYY-MM-DD date and an "H:MM AM/PM" clock time in loc.
func ParsePickup(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(pickupDateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidPickup, date)
	}
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(clock))
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: clock %q", ErrInvalidPickup, clock)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: clock %q", ErrInvalidPickup, clock)
	}
	hour %= 12
	if strings.EqualFold(m[3], "PM") {
		hour += 12
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

// SplitPickup formats a pickup time as separate date and clock strings in loc.
func SplitPickup(t time.Time, loc *time.Location) (date, clock string) {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(pickupDateLayout), t.Format(pickupClockLayout)
}

// EstimatedReady returns pickup minus PrepBuffer.
func EstimatedReady(pickup time.Time) time.Time {
	return pickup.Add(-PrepBuffer)
}
