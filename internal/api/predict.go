package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"safeguard/internal/anomaly"
	"safeguard/internal/features"
	"safeguard/internal/ingest"
	"safeguard/internal/model"
	"safeguard/internal/normalize"
	"safeguard/internal/risk"
)

// flexBool accepts JSON booleans as well as 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseBool(string(bytes.Trim(data, `"`)))
	if err != nil {
		return model.InvalidField("boolean", string(data), "not a boolean")
	}
	*b = flexBool(v)
	return nil
}

type anomalyRequest struct {
	Hour                *float64 `json:"hour" validate:"required"`
	SpeedKmh            *float64 `json:"speed_kmh" validate:"required"`
	DistanceFromEntryKm *float64 `json:"distance_from_entry_km" validate:"required"`
	BatteryLevel        *float64 `json:"battery_level" validate:"required"`
	GPSAccuracyM        *float64 `json:"gps_accuracy_m" validate:"required"`
	RiskZoneDistanceKm  *float64 `json:"risk_zone_distance_km" validate:"required"`
	DaysSinceEntry      *float64 `json:"days_since_entry" validate:"required"`
}

type anomalyResponse struct {
	model.AnomalyResult
	Interpretation string `json:"interpretation"`
}

type riskRequest struct {
	WeatherRisk        *string   `json:"weather_risk" validate:"required"`
	TerrainType        *string   `json:"terrain_type" validate:"required"`
	TimeOfDay          *string   `json:"time_of_day" validate:"required"`
	Season             *string   `json:"season" validate:"required"`
	TouristExperience  *string   `json:"tourist_experience" validate:"required"`
	GroupSize          *float64  `json:"group_size" validate:"required,gte=1"`
	HasGuide           *flexBool `json:"has_guide" validate:"required"`
	EmergencyEquipment *flexBool `json:"emergency_equipment" validate:"required"`
	Elevation          *float64  `json:"elevation"`
	Temperature        *float64  `json:"temperature"`
	Humidity           *float64  `json:"humidity"`
}

type riskResponse struct {
	model.RiskResult
	Recommendations []string `json:"recommendations"`
}

// safetyRequest is the union of both prediction inputs plus an optional
// position for geofencing. Every field is optional.
type safetyRequest struct {
	Hour                *float64  `json:"hour"`
	SpeedKmh            *float64  `json:"speed_kmh"`
	DistanceFromEntryKm *float64  `json:"distance_from_entry_km"`
	BatteryLevel        *float64  `json:"battery_level"`
	GPSAccuracyM        *float64  `json:"gps_accuracy_m"`
	RiskZoneDistanceKm  *float64  `json:"risk_zone_distance_km"`
	DaysSinceEntry      *float64  `json:"days_since_entry"`
	WeatherRisk         *string   `json:"weather_risk"`
	TerrainType         *string   `json:"terrain_type"`
	TimeOfDay           *string   `json:"time_of_day"`
	Season              *string   `json:"season"`
	TouristExperience   *string   `json:"tourist_experience"`
	GroupSize           *float64  `json:"group_size" validate:"omitempty,gte=1"`
	HasGuide            *flexBool `json:"has_guide"`
	EmergencyEquipment  *flexBool `json:"emergency_equipment"`
	Elevation           *float64  `json:"elevation"`
	Temperature         *float64  `json:"temperature"`
	Humidity            *float64  `json:"humidity"`
	Latitude            *float64  `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude           *float64  `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *flexBool) {
	if v != nil {
		*dst = bool(*v)
	}
}

func movement(hour, speed, dist, battery, gps, zoneDist, days *float64) model.TelemetrySample {
	s := normalize.DefaultSample()
	setFloat(&s.Hour, hour)
	setFloat(&s.SpeedKmh, speed)
	setFloat(&s.DistanceFromEntryKm, dist)
	setFloat(&s.BatteryLevel, battery)
	setFloat(&s.GPSAccuracyM, gps)
	setFloat(&s.RiskZoneDistanceKm, zoneDist)
	setFloat(&s.DaysSinceEntry, days)
	return s
}

func (req anomalyRequest) sample() model.TelemetrySample {
	return movement(req.Hour, req.SpeedKmh, req.DistanceFromEntryKm, req.BatteryLevel,
		req.GPSAccuracyM, req.RiskZoneDistanceKm, req.DaysSinceEntry)
}

func (req riskRequest) context() model.RiskContext {
	ctx := model.DefaultRiskContext()
	setString(&ctx.WeatherRisk, req.WeatherRisk)
	setString(&ctx.TerrainType, req.TerrainType)
	setString(&ctx.TimeOfDay, req.TimeOfDay)
	setString(&ctx.Season, req.Season)
	setString(&ctx.TouristExperience, req.TouristExperience)
	setFloat(&ctx.GroupSize, req.GroupSize)
	setBool(&ctx.HasGuide, req.HasGuide)
	setBool(&ctx.EmergencyEquipment, req.EmergencyEquipment)
	setFloat(&ctx.Elevation, req.Elevation)
	setFloat(&ctx.Temperature, req.Temperature)
	setFloat(&ctx.Humidity, req.Humidity)
	return ctx
}

func (req safetyRequest) sample() model.TelemetrySample {
	s := movement(req.Hour, req.SpeedKmh, req.DistanceFromEntryKm, req.BatteryLevel,
		req.GPSAccuracyM, req.RiskZoneDistanceKm, req.DaysSinceEntry)
	ctx := riskRequest{
		WeatherRisk:        req.WeatherRisk,
		TerrainType:        req.TerrainType,
		TimeOfDay:          req.TimeOfDay,
		Season:             req.Season,
		TouristExperience:  req.TouristExperience,
		GroupSize:          req.GroupSize,
		HasGuide:           req.HasGuide,
		EmergencyEquipment: req.EmergencyEquipment,
		Elevation:          req.Elevation,
		Temperature:        req.Temperature,
		Humidity:           req.Humidity,
	}.context()
	s.Context = &ctx
	if req.Latitude != nil && req.Longitude != nil {
		s.Latitude, s.Longitude, s.HasLocation = *req.Latitude, *req.Longitude, true
	}
	return s
}

func (s *Server) handlePredictAnomaly(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.registry.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sample := req.sample()
	res, err := m.Anomaly.Score(features.Derive(sample))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("anomaly prediction", "is_anomaly", res.IsAnomaly, "confidence", res.Confidence)
	writeJSON(w, http.StatusOK, anomalyResponse{
		AnomalyResult:  res,
		Interpretation: anomaly.Interpret(res, sample),
	})
}

func (s *Server) handlePredictRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.registry.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := req.context()
	res, err := m.Risk.Classify(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("risk prediction", "risk_level", res.RiskLevel, "confidence", res.Confidence)
	writeJSON(w, http.StatusOK, riskResponse{
		RiskResult:      res,
		Recommendations: risk.Recommendations(res, ctx),
	})
}

func (s *Server) handleSafetyScore(w http.ResponseWriter, r *http.Request) {
	var req safetyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Pipeline().Score(req.sample())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Score)
}

// handleTelemetry runs one device record through the full stream path and
// returns the assessment with its alerts.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := ingest.ParseJSONBytes(body)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", model.ErrValidation, errBadJSON))
		return
	}
	sample, err := normalize.Normalize(*fields, s.cfg.Get())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sample.Source = "api"
	a, err := s.engine.ProcessSample(r.Context(), sample)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
