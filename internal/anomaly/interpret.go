package anomaly

import (
	"strings"

	"safeguard/internal/model"
)

const NormalInterpretation = "Normal tourist behavior detected. No concerns identified."

// Interpret explains an anomaly result in operator-facing language.
func Interpret(res model.AnomalyResult, s model.TelemetrySample) string {
	if !res.IsAnomaly {
		return NormalInterpretation
	}
	var parts []string
	if s.SpeedKmh < 0.5 {
		parts = append(parts, "Prolonged stationary behavior detected - tourist may be stuck or resting")
	}
	if s.SpeedKmh > 15 {
		parts = append(parts, "Unusually fast movement detected - possible vehicle use or emergency situation")
	}
	if s.BatteryLevel < 10 {
		parts = append(parts, "Critical battery level - risk of losing communication")
	}
	if s.GPSAccuracyM > 100 {
		parts = append(parts, "Poor GPS signal - location accuracy compromised")
	}
	if s.Hour < 6 || s.Hour > 22 {
		parts = append(parts, "Activity during unusual hours - potential safety concern")
	}
	if len(parts) == 0 {
		parts = append(parts, "Anomalous pattern detected - recommend closer monitoring")
	}
	return strings.Join(parts, ". ")
}
