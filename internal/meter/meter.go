// Package meter holds the pure conversions applied to pulse-counter readings.
package meter

import (
	"fmt"
	"time"
)

// DefaultPulseToLiter is the conversion factor given to devices created without one
const DefaultPulseToLiter = 650.0

// DefaultOnlineThreshold is how recently a device must have reported to count as online
const DefaultOnlineThreshold = 30 * time.Second

// Liters converts a pulse count into a volume using the device's pulses-per-liter factor
func Liters(count int64, pulseToLiter float64) float64 {
	return float64(count) / pulseToLiter
}

// ValidateFactor rejects conversion factors that would make Liters meaningless
func ValidateFactor(pulseToLiter float64) error {
	if !(pulseToLiter > 0) {
		return fmt.Errorf("pulse_to_liter must be positive, got %v", pulseToLiter)
	}
	return nil
}

// IsOnline reports whether a device last seen at lastSeen is still considered online at now.
// A device that never reported is offline.
func IsOnline(lastSeen *time.Time, now time.Time, threshold time.Duration) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) < threshold
}
