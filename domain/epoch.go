package domain

import "time"

const (
	epochSeconds       = 3600
	rotationDaySeconds = 86400
)

// EpochAt returns the hourly derivation epoch for t. Epochs only move
// forward with the clock.
func EpochAt(t time.Time) uint64 {
	return uint64(t.Unix() / epochSeconds)
}

// RotationDayAt returns the daily rotation window for t. The fund router
// clears its per-day bookkeeping when this changes.
func RotationDayAt(t time.Time) uint64 {
	return uint64(t.Unix() / rotationDaySeconds)
}
