package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/model"
)

func calmVitals() *model.Vitals {
	return &model.Vitals{HeartRate: 72, BodyTemperatureF: 98.6, ActivityLevel: 4, StressLevel: 3}
}

func TestHeartRateSpikeRaisesOneCriticalHealthAlert(t *testing.T) {
	v := calmVitals()
	v.HeartRate = 190
	out := Alerts(v, nil, nil, model.AnomalyResult{}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, AlertHealth, out[0].Type)
	assert.Equal(t, model.SeverityCritical, out[0].Severity)
	assert.Equal(t, "Abnormal heart rate detected: 190 bpm", out[0].Message)
	assert.Equal(t, 190.0, out[0].Evidence["heart_rate"])
}

func TestThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name string
		v    *model.Vitals
		env  *model.Environment
		dev  *model.DeviceStatus
		want []string
	}{
		{"heart rate at bounds", &model.Vitals{HeartRate: 40, BodyTemperatureF: 98}, nil, nil, nil},
		{"heart rate upper bound", &model.Vitals{HeartRate: 180, BodyTemperatureF: 98}, nil, nil, nil},
		{"heart rate low", &model.Vitals{HeartRate: 39, BodyTemperatureF: 98}, nil, nil, []string{"health_anomaly/critical"}},
		{"body temp bounds", &model.Vitals{HeartRate: 70, BodyTemperatureF: 101}, nil, nil, nil},
		{"fever", &model.Vitals{HeartRate: 70, BodyTemperatureF: 101.5}, nil, nil, []string{"health_anomaly/high"}},
		{"stress at threshold", &model.Vitals{HeartRate: 70, BodyTemperatureF: 98, StressLevel: 9}, nil, nil, []string{"stress_alert/medium"}},
		{"stress below", &model.Vitals{HeartRate: 70, BodyTemperatureF: 98, StressLevel: 8.9}, nil, nil, nil},
		{"ambient bounds", nil, &model.Environment{AmbientTempF: 110, AirQuality: 50}, nil, nil},
		{"freezing", nil, &model.Environment{AmbientTempF: 31, AirQuality: 50}, nil, []string{"environmental_alert/high"}},
		{"air quality bound", nil, &model.Environment{AmbientTempF: 70, AirQuality: 20}, nil, nil},
		{"smog", nil, &model.Environment{AmbientTempF: 70, AirQuality: 19}, nil, []string{"environmental_alert/medium"}},
		{"battery bound", nil, nil, &model.DeviceStatus{BatteryLevel: 10}, nil},
		{"battery low", nil, nil, &model.DeviceStatus{BatteryLevel: 9}, []string{"device_alert/medium"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Alerts(tt.v, tt.env, tt.dev, model.AnomalyResult{}, nil)
			assert.Equal(t, tt.want, keys(got))
		})
	}
}

func keys(alerts []model.Alert) []string {
	var out []string
	for _, a := range alerts {
		out = append(out, a.Type+"/"+string(a.Severity))
	}
	return out
}

func TestEverythingWrongIsOrderedBySeverity(t *testing.T) {
	v := &model.Vitals{HeartRate: 190, BodyTemperatureF: 103, StressLevel: 9.5}
	env := &model.Environment{AmbientTempF: 120, AirQuality: 10}
	dev := &model.DeviceStatus{BatteryLevel: 5}

	got := Alerts(v, env, dev, model.AnomalyResult{}, nil)
	assert.Equal(t, []string{
		"health_anomaly/critical",
		"health_anomaly/high",
		"environmental_alert/high",
		"stress_alert/medium",
		"environmental_alert/medium",
		"device_alert/medium",
	}, keys(got))

	seen := map[string]bool{}
	for _, k := range keys(got) {
		assert.False(t, seen[k], "duplicate %s", k)
		seen[k] = true
	}
}

func TestAbsentGroupsRaiseNothing(t *testing.T) {
	assert.Empty(t, Alerts(nil, nil, nil, model.AnomalyResult{}, nil))
}

func TestGeofenceAlertsMergeSameSeverity(t *testing.T) {
	zones := []model.RiskZone{
		{ID: "a", Name: "Tiger reserve", Type: model.ZoneWildlife, RiskLevel: 3},
		{ID: "b", Name: "Quarry", Type: model.ZoneRestricted, RiskLevel: 3},
		{ID: "c", Name: "Border strip", Type: model.ZoneRestricted, RiskLevel: 5},
	}
	got := Alerts(nil, nil, nil, model.AnomalyResult{}, zones)
	require.Len(t, got, 2)

	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Equal(t, "You are entering a restricted zone (Border strip). Be cautious!", got[0].Message)

	assert.Equal(t, model.SeverityMedium, got[1].Severity)
	assert.Equal(t, "Inside 2 risk zones: a, b", got[1].Message)
	assert.Equal(t, []string{"a", "b"}, got[1].Evidence["zone_ids"])
	assert.Equal(t, []int{3, 3}, got[1].Evidence["risk_levels"])
	assert.Equal(t, "wildlife,restricted", got[1].Evidence["zone_type"])
}

func TestZoneSeverity(t *testing.T) {
	assert.Equal(t, model.SeverityLow, ZoneSeverity(1))
	assert.Equal(t, model.SeverityLow, ZoneSeverity(2))
	assert.Equal(t, model.SeverityMedium, ZoneSeverity(3))
	assert.Equal(t, model.SeverityHigh, ZoneSeverity(4))
	assert.Equal(t, model.SeverityCritical, ZoneSeverity(5))
}

func TestBehaviorAnomalyAlert(t *testing.T) {
	got := Alerts(nil, nil, nil, model.AnomalyResult{IsAnomaly: true, Confidence: 0.8, RawScore: -0.2}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, AlertBehaviorAnomaly, got[0].Type)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Equal(t, "Anomalous movement pattern detected (confidence 80%)", got[0].Message)

	got = Alerts(nil, nil, nil, model.AnomalyResult{IsAnomaly: true, Confidence: 0.6}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)

	assert.Empty(t, Alerts(nil, nil, nil, model.AnomalyResult{Confidence: 0.9}, nil))
}

func TestDedupeDoesNotAliasInputEvidence(t *testing.T) {
	in := []model.Alert{
		{Type: AlertGeofence, Severity: model.SeverityLow, Evidence: map[string]any{"zone_ids": []string{"x"}}},
		{Type: AlertGeofence, Severity: model.SeverityLow, Evidence: map[string]any{"zone_ids": []string{"y"}}},
	}
	out := Dedupe(in)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"x", "y"}, out[0].Evidence["zone_ids"])
	assert.Equal(t, []string{"x"}, in[0].Evidence["zone_ids"])
}
