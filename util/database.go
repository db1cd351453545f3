// Package util provides utility functions for the backend.
//
//revive:disable-next-line:var-naming
package util

import (
	"strings"
	"time"
)

// NVDTimeLayout is the timestamp layout the NVD API accepts for lastMod* parameters
const NVDTimeLayout = "2006-01-02T15:04:05.000-07:00"

// MirrorTimeLayout matches the lastModified values NVD writes into CVE bodies,
// so stored values compare lexicographically against it.
const MirrorTimeLayout = "2006-01-02T15:04:05.000"

// WatermarkLayout is used for the persisted last sync time
const WatermarkLayout = "2006-01-02T15:04:05.000Z07:00"

// SanitizeKey ensures the database key is valid for ArangoDB
// ArangoDB keys cannot contain spaces, slashes, or brackets
func SanitizeKey(key string) string {
	key = strings.TrimSpace(key)

	replacer := strings.NewReplacer(
		" ", "-",
		"/", "-",
		"[", "",
		"]", "",
		"(", "",
		")", "",
	)

	return replacer.Replace(key)
}

// FormatNVDTime renders t in UTC for the NVD query string
func FormatNVDTime(t time.Time) string {
	return t.UTC().Format(NVDTimeLayout)
}

// FormatWatermark renders t in UTC for storage in the metadata collection
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(WatermarkLayout)
}

// ParseWatermark accepts the stored layout and plain RFC3339 values written by older runs
func ParseWatermark(value string) (time.Time, error) {
	if t, err := time.Parse(WatermarkLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// ModifiedSinceThreshold returns midnight UTC of the day `days` before now,
// formatted for comparison against stored last_modified values.
func ModifiedSinceThreshold(now time.Time, days int) string {
	day := now.UTC().AddDate(0, 0, -days)
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Format(MirrorTimeLayout)
}
