package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/config"
	"safeguard/internal/model"
)

func fields(kv ...string) Fields {
	f := Fields{Values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Values[kv[i]] = kv[i+1]
	}
	return f
}

func TestDefaultsApplyToEmptyRecord(t *testing.T) {
	s, err := Normalize(fields(), config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "unknown", s.DeviceID)
	assert.Equal(t, 12.0, s.Hour)
	assert.Equal(t, 3.0, s.SpeedKmh)
	assert.Equal(t, 5.0, s.DistanceFromEntryKm)
	assert.Equal(t, 80.0, s.BatteryLevel)
	assert.Equal(t, 10.0, s.GPSAccuracyM)
	assert.Equal(t, 5.0, s.RiskZoneDistanceKm)
	assert.Equal(t, 1.0, s.DaysSinceEntry)
	assert.False(t, s.HasLocation)
	assert.Nil(t, s.Vitals)
	assert.Nil(t, s.Environment)
	assert.Nil(t, s.Device)
	assert.Nil(t, s.Context)
}

func TestAliasesAndGroups(t *testing.T) {
	s, err := Normalize(fields(
		"band_id", "band-9",
		"tourist_id", "t-42",
		"timestamp", "2025-06-01T21:15:00Z",
		"speed", "0.2",
		"battery", "15",
		"lat", "27.17",
		"lng", "78.04",
		"vitals.heart_rate", "190",
		"environment.air_quality", "12",
		"device.battery_level", "8",
		"context.weather_risk", "Storm",
		"context.has_guide", "true",
	), config.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "band-9", s.DeviceID)
	assert.Equal(t, "t-42", s.SubjectID)
	assert.Equal(t, time.Date(2025, 6, 1, 21, 15, 0, 0, time.UTC), s.Timestamp)
	assert.Equal(t, 21.0, s.Hour)
	assert.Equal(t, 0.2, s.SpeedKmh)
	assert.Equal(t, 15.0, s.BatteryLevel)
	assert.True(t, s.HasLocation)
	assert.Equal(t, 27.17, s.Latitude)

	require.NotNil(t, s.Vitals)
	assert.Equal(t, 190.0, s.Vitals.HeartRate)
	assert.Equal(t, 98.6, s.Vitals.BodyTemperatureF)
	require.NotNil(t, s.Environment)
	assert.Equal(t, 12.0, s.Environment.AirQuality)
	require.NotNil(t, s.Device)
	assert.Equal(t, 8.0, s.Device.BatteryLevel)
	require.NotNil(t, s.Context)
	assert.Equal(t, "storm", s.Context.WeatherRisk)
	assert.True(t, s.Context.HasGuide)
	assert.Equal(t, "urban", s.Context.TerrainType)
	assert.Equal(t, 100.0, s.Context.Elevation)
}

func TestExplicitHourWinsOverTimestamp(t *testing.T) {
	s, err := Normalize(fields("timestamp", "2025-06-01T21:15:00Z", "hour", "3"), config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Hour)
}

func TestTimezoneDerivesLocalHour(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.Timezone = "Asia/Kolkata"
	s, err := Normalize(fields("timestamp", "2025-06-01 10:00:00"), cfg)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Hour)
	assert.Equal(t, time.Date(2025, 6, 1, 4, 30, 0, 0, time.UTC), s.Timestamp)
}

func TestLocationNeedsBothCoordinates(t *testing.T) {
	s, err := Normalize(fields("lat", "27.1"), config.DefaultConfig())
	require.NoError(t, err)
	assert.False(t, s.HasLocation)
}

func TestMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		in    Fields
		field string
	}{
		{"speed", fields("speed_kmh", "fast"), "speed_kmh"},
		{"heart rate", fields("vitals.heart_rate", "high"), "heart_rate"},
		{"timestamp", fields("timestamp", "yesterday"), "timestamp"},
		{"bool", fields("context.has_guide", "maybe"), "has_guide"},
		{"latitude", fields("lat", "north", "lon", "1"), "latitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.in, config.DefaultConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, tt.field, model.FieldOf(err))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2025-06-01T12:00:00Z",
		"2025-06-01 12:00:00",
		"1748779200",
		"1748779200000",
	} {
		got, err := ParseTimestamp(in, time.UTC)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}
	_, err := ParseTimestamp("", time.UTC)
	assert.Error(t, err)
}
