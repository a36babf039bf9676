package engine

import (
	"fmt"
	"slices"
	"strings"

	"safeguard/internal/model"
)

// Alert types.
const (
	AlertHealth          = "health_anomaly"
	AlertStress          = "stress_alert"
	AlertEnvironmental   = "environmental_alert"
	AlertDevice          = "device_alert"
	AlertGeofence        = "geofence_alert"
	AlertBehaviorAnomaly = "behavior_anomaly"
)

// Thresholds for the rule set; bounds are inclusive of the normal range.
const (
	MinHeartRate          = 40
	MaxHeartRate          = 180
	MinBodyTempF          = 95
	MaxBodyTempF          = 101
	StressThreshold       = 9
	MinAmbientTempF       = 32
	MaxAmbientTempF       = 110
	MinAirQuality         = 20
	CriticalBattery       = 10
	HighAnomalyConfidence = 0.7
)

// ZoneSeverity maps a zone risk level (1..5) to an alert severity.
func ZoneSeverity(level int) model.Severity {
	switch {
	case level >= 5:
		return model.SeverityCritical
	case level == 4:
		return model.SeverityHigh
	case level == 3:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// Alerts evaluates every rule independently. Absent sensor groups contribute
// nothing. The result holds at most one alert per (type, severity) and is
// ordered by descending severity, then by rule order.
func Alerts(v *model.Vitals, env *model.Environment, dev *model.DeviceStatus, an model.AnomalyResult, violations []model.RiskZone) []model.Alert {
	var out []model.Alert
	if v != nil {
		if v.HeartRate < MinHeartRate || v.HeartRate > MaxHeartRate {
			out = append(out, model.Alert{
				Type:     AlertHealth,
				Severity: model.SeverityCritical,
				Message:  fmt.Sprintf("Abnormal heart rate detected: %g bpm", v.HeartRate),
				Evidence: map[string]any{"heart_rate": v.HeartRate},
			})
		}
		if v.BodyTemperatureF < MinBodyTempF || v.BodyTemperatureF > MaxBodyTempF {
			out = append(out, model.Alert{
				Type:     AlertHealth,
				Severity: model.SeverityHigh,
				Message:  fmt.Sprintf("Abnormal body temperature: %.1f°F", v.BodyTemperatureF),
				Evidence: map[string]any{"body_temperature_f": v.BodyTemperatureF},
			})
		}
		if v.StressLevel >= StressThreshold {
			out = append(out, model.Alert{
				Type:     AlertStress,
				Severity: model.SeverityMedium,
				Message:  fmt.Sprintf("High stress level detected: %g/10", v.StressLevel),
				Evidence: map[string]any{"stress_level": v.StressLevel},
			})
		}
	}
	if env != nil {
		if env.AmbientTempF < MinAmbientTempF || env.AmbientTempF > MaxAmbientTempF {
			out = append(out, model.Alert{
				Type:     AlertEnvironmental,
				Severity: model.SeverityHigh,
				Message:  fmt.Sprintf("Extreme temperature: %.1f°F", env.AmbientTempF),
				Evidence: map[string]any{"ambient_temp_f": env.AmbientTempF},
			})
		}
		if env.AirQuality < MinAirQuality {
			out = append(out, model.Alert{
				Type:     AlertEnvironmental,
				Severity: model.SeverityMedium,
				Message:  fmt.Sprintf("Poor air quality detected: %g/100", env.AirQuality),
				Evidence: map[string]any{"air_quality": env.AirQuality},
			})
		}
	}
	if dev != nil && dev.BatteryLevel < CriticalBattery {
		out = append(out, model.Alert{
			Type:     AlertDevice,
			Severity: model.SeverityMedium,
			Message:  fmt.Sprintf("Low battery warning: %g%%", dev.BatteryLevel),
			Evidence: map[string]any{"battery_level": dev.BatteryLevel},
		})
	}
	for _, z := range violations {
		out = append(out, model.Alert{
			Type:     AlertGeofence,
			Severity: ZoneSeverity(z.RiskLevel),
			Message:  zoneMessage(z),
			Evidence: map[string]any{
				"zone_ids":    []string{z.ID},
				"zone_type":   string(z.Type),
				"risk_levels": []int{z.RiskLevel},
			},
		})
	}
	if an.IsAnomaly {
		sev := model.SeverityMedium
		if an.Confidence >= HighAnomalyConfidence {
			sev = model.SeverityHigh
		}
		out = append(out, model.Alert{
			Type:     AlertBehaviorAnomaly,
			Severity: sev,
			Message:  fmt.Sprintf("Anomalous movement pattern detected (confidence %.0f%%)", an.Confidence*100),
			Evidence: map[string]any{"confidence": an.Confidence, "anomaly_score": an.RawScore},
		})
	}
	out = Dedupe(out)
	slices.SortStableFunc(out, func(a, b model.Alert) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return out
}

func zoneMessage(z model.RiskZone) string {
	kind := string(z.Type)
	if kind == "" {
		kind = "risk"
	}
	name := z.Name
	if name == "" {
		name = z.ID
	}
	return fmt.Sprintf("You are entering a %s zone (%s). Be cautious!", kind, name)
}

// Dedupe keeps the first alert of each (type, severity) and folds the
// evidence of later ones into it.
func Dedupe(in []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, a := range in {
		key := a.Type + "|" + string(a.Severity)
		i, seen := pos[key]
		if !seen {
			pos[key] = len(out)
			a.Evidence = cloneEvidence(a.Evidence)
			out = append(out, a)
			continue
		}
		out[i].Evidence = mergeEvidence(out[i].Evidence, a.Evidence)
		if a.Type == AlertGeofence {
			out[i].Message = geofenceSummary(out[i].Evidence)
		}
	}
	return out
}

func cloneEvidence(e map[string]any) map[string]any {
	out := make(map[string]any, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func mergeEvidence(dst, src map[string]any) map[string]any {
	for k, v := range src {
		cur, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch c := cur.(type) {
		case []string:
			if s, ok := v.([]string); ok {
				dst[k] = append(slices.Clone(c), s...)
			}
		case []int:
			if s, ok := v.([]int); ok {
				dst[k] = append(slices.Clone(c), s...)
			}
		case string:
			if s, ok := v.(string); ok && s != c && !slices.Contains(strings.Split(c, ","), s) {
				dst[k] = c + "," + s
			}
		}
	}
	return dst
}

func geofenceSummary(evidence map[string]any) string {
	ids, _ := evidence["zone_ids"].([]string)
	return fmt.Sprintf("Inside %d risk zones: %s", len(ids), strings.Join(ids, ", "))
}
