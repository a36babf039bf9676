// Package scoring fuses the model outputs into one safety score.
package scoring

import (
	"math"

	"safeguard/internal/features"
	"safeguard/internal/geofence"
	"safeguard/internal/model"
)

const (
	BaseScore            = 100.0
	AnomalyWeight        = 30.0
	LowBatteryPenalty    = 10.0
	PoorGPSPenalty       = 5.0
	RiskProximityPenalty = 15.0
)

// RiskPenalty is subtracted per classified risk level.
var RiskPenalty = map[string]float64{
	model.RiskLow:      0,
	model.RiskMedium:   15,
	model.RiskHigh:     35,
	model.RiskCritical: 60,
}

// Penalty keys reported in Factors.Penalties.
const (
	PenaltyAnomaly  = "anomaly"
	PenaltyRisk     = "risk_level"
	PenaltyBattery  = "low_battery"
	PenaltyGPS      = "poor_gps"
	PenaltyRiskZone = "risk_zone"
)

// Combine is pure: the same inputs always give the same result. Penalties
// add up and the total is clamped once before rounding.
func Combine(an model.AnomalyResult, rk model.RiskResult, violations []model.RiskZone, s model.TelemetrySample) model.ScoreResult {
	issues := model.TechnicalIssues{
		LowBattery:   features.LowBattery(s.BatteryLevel),
		PoorGPS:      features.PoorGPS(s.GPSAccuracyM),
		NearRiskZone: features.NearRiskZone(s.RiskZoneDistanceKm),
	}
	penalties := map[string]float64{
		PenaltyAnomaly:  0,
		PenaltyRisk:     RiskPenalty[rk.RiskLevel],
		PenaltyBattery:  0,
		PenaltyGPS:      0,
		PenaltyRiskZone: 0,
	}
	if an.IsAnomaly {
		penalties[PenaltyAnomaly] = AnomalyWeight * an.Confidence
	}
	if issues.LowBattery {
		penalties[PenaltyBattery] = LowBatteryPenalty
	}
	if issues.PoorGPS {
		penalties[PenaltyGPS] = PoorGPSPenalty
	}
	if issues.NearRiskZone || len(violations) > 0 {
		penalties[PenaltyRiskZone] = RiskProximityPenalty
	}

	score := BaseScore
	for _, k := range []string{PenaltyAnomaly, PenaltyRisk, PenaltyBattery, PenaltyGPS, PenaltyRiskZone} {
		score -= penalties[k]
	}
	score = math.Round(math.Max(0, math.Min(100, score)))

	ids := geofence.IDs(violations)
	return model.ScoreResult{
		SafetyScore:       int(score),
		RiskLevel:         rk.RiskLevel,
		AnomalyDetected:   an.IsAnomaly,
		AnomalyConfidence: an.Confidence,
		RiskProbabilities: rk.Probabilities,
		Factors: model.Factors{
			BehaviorAnomaly:   an.IsAnomaly,
			EnvironmentalRisk: rk.RiskLevel,
			TechnicalIssues:   issues,
			GeofenceViolation: len(violations) > 0,
			Penalties:         penalties,
		},
		GeofenceViolations: ids,
	}
}
