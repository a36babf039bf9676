// Package normalize turns loosely keyed telemetry records into typed
// samples. Missing fields take the documented defaults; malformed values
// fail with a validation error naming the field.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"safeguard/internal/config"
	"safeguard/internal/model"
)

// Fields is one parsed record. Keys are lower-case; nested objects are
// flattened with dots ("vitals.heart_rate").
type Fields struct {
	Values map[string]string
	Raw    string
}

func (f Fields) lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := f.Values[k]; ok {
			if v = strings.TrimSpace(v); v != "" && v != "<nil>" {
				return v, true
			}
		}
	}
	return "", false
}

func (f Fields) hasPrefix(prefix string) bool {
	for k := range f.Values {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Sample defaults for absent movement fields.
const (
	DefaultHour                = 12
	DefaultSpeedKmh            = 3
	DefaultDistanceFromEntryKm = 5
	DefaultBatteryLevel        = 80
	DefaultGPSAccuracyM        = 10
	DefaultRiskZoneDistanceKm  = 5
	DefaultDaysSinceEntry      = 1
)

func DefaultSample() model.TelemetrySample {
	return model.TelemetrySample{
		Hour:                DefaultHour,
		SpeedKmh:            DefaultSpeedKmh,
		DistanceFromEntryKm: DefaultDistanceFromEntryKm,
		BatteryLevel:        DefaultBatteryLevel,
		GPSAccuracyM:        DefaultGPSAccuracyM,
		RiskZoneDistanceKm:  DefaultRiskZoneDistanceKm,
		DaysSinceEntry:      DefaultDaysSinceEntry,
	}
}

type numericField struct {
	name    string
	aliases []string
	dst     func(*model.TelemetrySample) *float64
}

var movementFields = []numericField{
	{"hour", []string{"hour", "hour_of_day"}, func(s *model.TelemetrySample) *float64 { return &s.Hour }},
	{"speed_kmh", []string{"speed_kmh", "speed"}, func(s *model.TelemetrySample) *float64 { return &s.SpeedKmh }},
	{"distance_from_entry_km", []string{"distance_from_entry_km", "distance_from_entry"}, func(s *model.TelemetrySample) *float64 { return &s.DistanceFromEntryKm }},
	{"battery_level", []string{"battery_level", "battery"}, func(s *model.TelemetrySample) *float64 { return &s.BatteryLevel }},
	{"gps_accuracy_m", []string{"gps_accuracy_m", "gps_accuracy"}, func(s *model.TelemetrySample) *float64 { return &s.GPSAccuracyM }},
	{"risk_zone_distance_km", []string{"risk_zone_distance_km", "risk_zone_distance"}, func(s *model.TelemetrySample) *float64 { return &s.RiskZoneDistanceKm }},
	{"days_since_entry", []string{"days_since_entry", "days"}, func(s *model.TelemetrySample) *float64 { return &s.DaysSinceEntry }},
}

func Normalize(f Fields, cfg *config.Config) (model.TelemetrySample, error) {
	s := DefaultSample()

	s.DeviceID, _ = f.lookup("device_id", "band_id", "deviceid", "device")
	if s.DeviceID == "" {
		s.DeviceID = cfg.Ingest.Parser.DefaultDeviceID
	}
	s.SubjectID, _ = f.lookup("subject_id", "tourist_id", "user_id")

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	if raw, ok := f.lookup("timestamp", "time", "ts"); ok {
		ts, err := ParseTimestamp(raw, loc)
		if err != nil {
			return model.TelemetrySample{}, model.InvalidField("timestamp", raw, err.Error())
		}
		s.Timestamp = ts.UTC()
		s.Hour = float64(ts.In(loc).Hour())
	}

	for _, nf := range movementFields {
		if err := readFloat(f, nf.name, nf.dst(&s), nf.aliases...); err != nil {
			return model.TelemetrySample{}, err
		}
	}

	lat, hasLat := f.lookup("latitude", "lat", "location.lat", "location.latitude")
	lon, hasLon := f.lookup("longitude", "lon", "lng", "location.lon", "location.lng", "location.longitude")
	if hasLat && hasLon {
		var err error
		if s.Latitude, err = parseFloat("latitude", lat); err != nil {
			return model.TelemetrySample{}, err
		}
		if s.Longitude, err = parseFloat("longitude", lon); err != nil {
			return model.TelemetrySample{}, err
		}
		s.HasLocation = true
	}

	var err error
	if s.Vitals, err = vitals(f); err != nil {
		return model.TelemetrySample{}, err
	}
	if s.Environment, err = environment(f); err != nil {
		return model.TelemetrySample{}, err
	}
	if s.Device, err = device(f); err != nil {
		return model.TelemetrySample{}, err
	}
	if s.Context, err = riskContext(f); err != nil {
		return model.TelemetrySample{}, err
	}
	return s, nil
}

func vitals(f Fields) (*model.Vitals, error) {
	if !f.hasPrefix("vitals.") && !anyKey(f, "heart_rate", "body_temperature", "body_temperature_f", "stress_level") {
		return nil, nil
	}
	v := &model.Vitals{HeartRate: 72, BodyTemperatureF: 98.6}
	for _, err := range []error{
		readFloat(f, "heart_rate", &v.HeartRate, "vitals.heart_rate", "heart_rate"),
		readFloat(f, "body_temperature_f", &v.BodyTemperatureF, "vitals.body_temperature_f", "vitals.body_temperature", "body_temperature_f", "body_temperature"),
		readFloat(f, "activity_level", &v.ActivityLevel, "vitals.activity_level", "activity_level"),
		readFloat(f, "stress_level", &v.StressLevel, "vitals.stress_level", "stress_level"),
	} {
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func environment(f Fields) (*model.Environment, error) {
	if !f.hasPrefix("environment.") && !anyKey(f, "ambient_temp_f", "ambient_temperature", "air_quality") {
		return nil, nil
	}
	env := &model.Environment{AmbientTempF: 75, Humidity: 50, AirQuality: 80}
	for _, err := range []error{
		readFloat(f, "ambient_temp_f", &env.AmbientTempF, "environment.ambient_temp_f", "environment.ambient_temperature", "ambient_temp_f", "ambient_temperature"),
		readFloat(f, "humidity", &env.Humidity, "environment.humidity"),
		readFloat(f, "air_quality", &env.AirQuality, "environment.air_quality", "air_quality"),
	} {
		if err != nil {
			return nil, err
		}
	}
	return env, nil
}

func device(f Fields) (*model.DeviceStatus, error) {
	if !f.hasPrefix("device.") && !f.hasPrefix("device_status.") {
		return nil, nil
	}
	d := &model.DeviceStatus{BatteryLevel: 100, SignalStrength: 100, Active: true}
	if err := readFloat(f, "device.battery_level", &d.BatteryLevel, "device.battery_level", "device_status.battery_level"); err != nil {
		return nil, err
	}
	if err := readFloat(f, "device.signal_strength", &d.SignalStrength, "device.signal_strength", "device_status.signal_strength"); err != nil {
		return nil, err
	}
	if err := readBool(f, "device.is_active", &d.Active, "device.is_active", "device_status.is_active"); err != nil {
		return nil, err
	}
	return d, nil
}

func riskContext(f Fields) (*model.RiskContext, error) {
	if !f.hasPrefix("context.") {
		return nil, nil
	}
	ctx := model.DefaultRiskContext()
	for key, dst := range map[string]*string{
		"weather_risk":       &ctx.WeatherRisk,
		"terrain_type":       &ctx.TerrainType,
		"time_of_day":        &ctx.TimeOfDay,
		"season":             &ctx.Season,
		"tourist_experience": &ctx.TouristExperience,
	} {
		if v, ok := f.lookup("context." + key); ok {
			*dst = strings.ToLower(v)
		}
	}
	for key, dst := range map[string]*float64{
		"group_size":  &ctx.GroupSize,
		"elevation":   &ctx.Elevation,
		"temperature": &ctx.Temperature,
		"humidity":    &ctx.Humidity,
	} {
		if err := readFloat(f, key, dst, "context."+key); err != nil {
			return nil, err
		}
	}
	if err := readBool(f, "has_guide", &ctx.HasGuide, "context.has_guide"); err != nil {
		return nil, err
	}
	if err := readBool(f, "emergency_equipment", &ctx.EmergencyEquipment, "context.emergency_equipment"); err != nil {
		return nil, err
	}
	return &ctx, nil
}

func anyKey(f Fields, keys ...string) bool {
	_, ok := f.lookup(keys...)
	return ok
}

func readFloat(f Fields, name string, dst *float64, keys ...string) error {
	raw, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	v, err := parseFloat(name, raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, model.InvalidField(name, raw, "not a number")
	}
	return v, nil
}

func readBool(f Fields, name string, dst *bool, keys ...string) error {
	raw, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "on":
		*dst = true
	case "0", "false", "no", "n", "off":
		*dst = false
	default:
		return model.InvalidField(name, raw, "not a boolean")
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339, common SQL-style layouts and unix
// seconds or milliseconds. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if (ch < '0' || ch > '9') && ch != '.' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(strings.SplitN(value, ".", 2)[0]) >= 13 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
}
