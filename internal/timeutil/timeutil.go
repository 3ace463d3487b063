// Package timeutil centralizes the JST<->UTC conversions the index gateway
// needs at its boundary (spec §9: "centralize on two functions").
package timeutil

import "time"

// JST is fixed at UTC+9; the source system never observes daylight saving.
var JST = time.FixedZone("JST", 9*60*60)

// ToIndexTS converts a local-time (JST) instant to the UTC-naive ISO8601
// representation the index stores and queries in.
func ToIndexTS(local time.Time) string {
	return local.In(time.UTC).Format("2006-01-02T15:04:05")
}

// FromIndexTS parses a UTC-naive ISO8601 string as stored by the index and
// returns the equivalent JST instant.
func FromIndexTS(utcNaive string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", utcNaive, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(JST), nil
}

// ParseOperatorTimestamp parses an operator-supplied ISO8601 timestamp,
// tolerating a trailing "Z", and returns it normalized to JST. A timestamp
// without a zone is read as JST local time.
func ParseOperatorTimestamp(s string) (time.Time, error) {
	candidates := []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05"}
	var lastErr error
	for _, layout := range candidates {
		if t, err := time.ParseInLocation(layout, s, JST); err == nil {
			return t.In(JST), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
