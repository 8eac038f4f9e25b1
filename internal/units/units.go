// Package units converts tracker pixel measurements into physical
// units for display. The camera geometry is fixed at install time, so a
// single pixels-per-millimetre scale covers the whole frame.
package units

// Unit constants
const (
	PxPerSec = "px_s"
	MMPerSec = "mm_s"
	CMPerSec = "cm_s"
	// BodyLengthsPerSec normalizes speed to worker bee body lengths,
	// which reads more naturally when comparing colonies filmed at
	// different scales.
	BodyLengthsPerSec = "bl_s"
)

// workerBodyLengthMM is the nominal length of a worker honey bee.
const workerBodyLengthMM = 13.0

// ValidUnits contains all valid unit values
var ValidUnits = []string{PxPerSec, MMPerSec, CMPerSec, BodyLengthsPerSec}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "px_s, mm_s, cm_s, bl_s"
}

// ConvertSpeed converts a speed from pixels per second to the target
// units using the camera's pixels-per-millimetre scale. A zero or
// negative scale disables conversion and the pixel value is returned
// unchanged, since without calibration physical units would be
// meaningless.
func ConvertSpeed(speedPxPerSec, pxPerMM float64, targetUnits string) float64 {
	if targetUnits == PxPerSec || pxPerMM <= 0 {
		return speedPxPerSec
	}
	mmPerSec := speedPxPerSec / pxPerMM
	switch targetUnits {
	case MMPerSec:
		return mmPerSec
	case CMPerSec:
		return mmPerSec / 10
	case BodyLengthsPerSec:
		return mmPerSec / workerBodyLengthMM
	default:
		return speedPxPerSec
	}
}
