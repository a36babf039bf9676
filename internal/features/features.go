// Package features turns raw telemetry samples into the ordered model input
// used by the anomaly scorer.
package features

import (
	"math"

	"safeguard/internal/model"
)

// Numeric columns in model input order. The encoded categorical columns
// follow them.
var Columns = []string{
	"hour",
	"speed_kmh",
	"distance_from_entry_km",
	"battery_level",
	"gps_accuracy_m",
	"risk_zone_distance_km",
	"days_since_entry",
	"is_night",
	"is_peak_hours",
	"low_battery",
	"poor_gps",
	"near_risk_zone",
	"unusual_hour_activity",
	"excessive_distance",
}

const SpeedCategoryColumn = "speed_category"

var CategoricalColumns = []string{SpeedCategoryColumn}

// Schema is the full ordered input of the anomaly model.
func Schema() []string {
	out := make([]string, 0, len(Columns)+len(CategoricalColumns))
	out = append(out, Columns...)
	for _, c := range CategoricalColumns {
		out = append(out, EncodedName(c))
	}
	return out
}

func EncodedName(col string) string {
	return col + "_encoded"
}

const (
	SpeedStationary = "stationary"
	SpeedWalking    = "walking"
	SpeedFast       = "fast"
	SpeedVehicle    = "vehicle"
)

var SpeedCategories = []string{SpeedStationary, SpeedWalking, SpeedFast, SpeedVehicle}

type Flags struct {
	IsNight             bool   `json:"is_night"`
	IsPeakHours         bool   `json:"is_peak_hours"`
	SpeedCategory       string `json:"speed_category"`
	LowBattery          bool   `json:"low_battery"`
	PoorGPS             bool   `json:"poor_gps"`
	NearRiskZone        bool   `json:"near_risk_zone"`
	UnusualHourActivity bool   `json:"unusual_hour_activity"`
	ExcessiveDistance   bool   `json:"excessive_distance"`
}

// Vector holds the numeric columns in Columns order plus the raw categorical
// values; categories are encoded by the model that consumes the vector.
type Vector struct {
	Values     []float64
	Categories map[string]string
	Flags      Flags
}

// Derive never fails: out-of-range fields are clamped to their bounds.
func Derive(s model.TelemetrySample) Vector {
	hour := clamp(s.Hour, 0, math.Nextafter(24, 0))
	speed := math.Max(0, s.SpeedKmh)
	distance := math.Max(0, s.DistanceFromEntryKm)
	battery := clamp(s.BatteryLevel, 0, 100)
	accuracy := s.GPSAccuracyM
	if accuracy <= 0 {
		accuracy = minGPSAccuracy
	}
	riskDist := math.Max(0, s.RiskZoneDistanceKm)
	days := math.Max(1, s.DaysSinceEntry)

	var f Flags
	f.IsNight = hour < 6 || hour > 22
	f.IsPeakHours = hour >= 9 && hour <= 17
	f.SpeedCategory = SpeedCategory(speed)
	f.LowBattery = LowBattery(battery)
	f.PoorGPS = PoorGPS(accuracy)
	f.NearRiskZone = NearRiskZone(riskDist)
	f.UnusualHourActivity = (hour < 6 || hour > 23) && speed > 3
	f.ExcessiveDistance = distance > days*10

	return Vector{
		Values: []float64{
			hour,
			speed,
			distance,
			battery,
			accuracy,
			riskDist,
			days,
			b2f(f.IsNight),
			b2f(f.IsPeakHours),
			b2f(f.LowBattery),
			b2f(f.PoorGPS),
			b2f(f.NearRiskZone),
			b2f(f.UnusualHourActivity),
			b2f(f.ExcessiveDistance),
		},
		Categories: map[string]string{SpeedCategoryColumn: f.SpeedCategory},
		Flags:      f,
	}
}

const minGPSAccuracy = 0.1

func SpeedCategory(speed float64) string {
	switch {
	case speed < 1:
		return SpeedStationary
	case speed < 5:
		return SpeedWalking
	case speed < 15:
		return SpeedFast
	default:
		return SpeedVehicle
	}
}

func LowBattery(level float64) bool { return level < 20 }

func PoorGPS(accuracyM float64) bool { return accuracyM > 50 }

func NearRiskZone(distanceKm float64) bool { return distanceKm < 1 }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
