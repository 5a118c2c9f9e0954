package units

import (
	"fmt"
	"time"
)

// IsTimezoneValid reports whether tz names a zone in the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// OffsetHours returns the UTC offset of zone tz at instant t, so daylight
// saving is applied per timestamp rather than once per run.
func OffsetHours(t time.Time, tz string) (float64, error) {
	if tz == "UTC" {
		return 0, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	_, offset := t.In(loc).Zone()
	return float64(offset) / 3600, nil
}
