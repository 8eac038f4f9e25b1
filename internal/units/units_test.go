package units

import (
	"math"
	"testing"
	"time"
)

func TestIsValid(t *testing.T) {
	for _, unit := range ValidUnits {
		if !IsValid(unit) {
			t.Errorf("IsValid(%q) = false, want true", unit)
		}
	}
	if IsValid("mph") {
		t.Error("IsValid(mph) = true, want false")
	}
	if IsValid("") {
		t.Error("IsValid(\"\") = true, want false")
	}
}

func TestConvertSpeed(t *testing.T) {
	const pxPerMM = 4.0 // 4 px per mm

	tests := []struct {
		name    string
		speedPx float64
		scale   float64
		units   string
		want    float64
	}{
		{"pixels passthrough", 100, pxPerMM, PxPerSec, 100},
		{"mm per second", 100, pxPerMM, MMPerSec, 25},
		{"cm per second", 100, pxPerMM, CMPerSec, 2.5},
		{"body lengths", 52, 1.0, BodyLengthsPerSec, 4},
		{"no calibration keeps pixels", 100, 0, MMPerSec, 100},
		{"unknown unit keeps pixels", 100, pxPerMM, "furlongs", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.speedPx, tt.scale, tt.units)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ConvertSpeed(%v, %v, %q) = %v, want %v",
					tt.speedPx, tt.scale, tt.units, got, tt.want)
			}
		})
	}
}

func TestIsTimezoneValid(t *testing.T) {
	if !IsTimezoneValid("UTC") {
		t.Error("UTC should be valid")
	}
	if !IsTimezoneValid("Europe/Berlin") {
		t.Error("Europe/Berlin should be valid")
	}
	if IsTimezoneValid("") {
		t.Error("empty timezone should be invalid")
	}
	if IsTimezoneValid("Mars/Olympus_Mons") {
		t.Error("unknown timezone should be invalid")
	}
}

func TestConvertTime(t *testing.T) {
	utc := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	same, err := ConvertTime(utc, "UTC")
	if err != nil || !same.Equal(utc) {
		t.Errorf("UTC conversion changed the time: %v, %v", same, err)
	}

	berlin, err := ConvertTime(utc, "Europe/Berlin")
	if err != nil {
		t.Fatalf("ConvertTime: %v", err)
	}
	if !berlin.Equal(utc) {
		t.Error("conversion must not change the instant")
	}
	if berlin.Hour() != 14 { // CEST in June
		t.Errorf("Berlin hour = %d, want 14", berlin.Hour())
	}

	if _, err := ConvertTime(utc, "Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
