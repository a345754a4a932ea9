package ingest

import (
	"github.com/lox/weathertracker/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindSpeedNegative  = "wind_speed_negative"
	FlagPressureOutOfRange = "pressure_out_of_range"
)

// ValidateSnapshot returns quality flags for implausible provider values.
// Flagged snapshots are still used; the flags only feed logs and metrics.
func ValidateSnapshot(s *models.WeatherSnapshot) []string {
	var flags []string

	if s.Temperature < -90 || s.Temperature > 60 {
		flags = append(flags, FlagTempOutOfRange)
	}

	if s.Humidity < 0 || s.Humidity > 100 {
		flags = append(flags, FlagHumidityInvalid)
	}

	if s.WindSpeed < 0 {
		flags = append(flags, FlagWindSpeedNegative)
	}

	if s.Pressure < 850 || s.Pressure > 1100 {
		flags = append(flags, FlagPressureOutOfRange)
	}

	return flags
}
