package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Risk levels produced by the risk classifier, in escalating order.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

var RiskLevels = []string{RiskLow, RiskMedium, RiskHigh, RiskCritical}

type TelemetrySample struct {
	DeviceID            string        `json:"device_id,omitempty"`
	SubjectID           string        `json:"subject_id,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
	Hour                float64       `json:"hour"`
	SpeedKmh            float64       `json:"speed_kmh"`
	DistanceFromEntryKm float64       `json:"distance_from_entry_km"`
	BatteryLevel        float64       `json:"battery_level"`
	GPSAccuracyM        float64       `json:"gps_accuracy_m"`
	RiskZoneDistanceKm  float64       `json:"risk_zone_distance_km"`
	DaysSinceEntry      float64       `json:"days_since_entry"`
	Latitude            float64       `json:"latitude"`
	Longitude           float64       `json:"longitude"`
	HasLocation         bool          `json:"-"`
	Source              string        `json:"-"`
	Vitals              *Vitals       `json:"vitals,omitempty"`
	Environment         *Environment  `json:"environment,omitempty"`
	Device              *DeviceStatus `json:"device,omitempty"`
	Context             *RiskContext  `json:"context,omitempty"`
}

type Vitals struct {
	HeartRate        float64 `json:"heart_rate"`
	BodyTemperatureF float64 `json:"body_temperature_f"`
	ActivityLevel    float64 `json:"activity_level"`
	StressLevel      float64 `json:"stress_level"`
}

type Environment struct {
	AmbientTempF float64 `json:"ambient_temp_f"`
	Humidity     float64 `json:"humidity"`
	AirQuality   float64 `json:"air_quality"`
}

type DeviceStatus struct {
	BatteryLevel   float64 `json:"battery_level"`
	SignalStrength float64 `json:"signal_strength"`
	Active         bool    `json:"is_active"`
}

type RiskContext struct {
	WeatherRisk        string  `json:"weather_risk"`
	TerrainType        string  `json:"terrain_type"`
	TimeOfDay          string  `json:"time_of_day"`
	Season             string  `json:"season"`
	TouristExperience  string  `json:"tourist_experience"`
	GroupSize          float64 `json:"group_size" validate:"gte=1"`
	HasGuide           bool    `json:"has_guide"`
	EmergencyEquipment bool    `json:"emergency_equipment"`
	Elevation          float64 `json:"elevation"`
	Temperature        float64 `json:"temperature"`
	Humidity           float64 `json:"humidity"`
}

const (
	DefaultElevation   = 100
	DefaultTemperature = 25
	DefaultHumidity    = 70
)

func DefaultRiskContext() RiskContext {
	return RiskContext{
		WeatherRisk:       "clear",
		TerrainType:       "urban",
		TimeOfDay:         "afternoon",
		Season:            "spring",
		TouristExperience: "intermediate",
		GroupSize:         2,
		Elevation:         DefaultElevation,
		Temperature:       DefaultTemperature,
		Humidity:          DefaultHumidity,
	}
}

type ZoneType string

const (
	ZoneWildlife   ZoneType = "wildlife"
	ZoneRestricted ZoneType = "restricted"
	ZoneWeather    ZoneType = "weather"
)

type GeometryKind string

const (
	GeometryCircle  GeometryKind = "circle"
	GeometryPolygon GeometryKind = "polygon"
)

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

type Geometry struct {
	Kind     GeometryKind `json:"kind" yaml:"kind"`
	Center   Point        `json:"center,omitempty" yaml:"center,omitempty"`
	RadiusKm float64      `json:"radius_km,omitempty" yaml:"radius_km,omitempty"`
	Ring     []Point      `json:"ring,omitempty" yaml:"ring,omitempty"`
}

type RiskZone struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Type        ZoneType `json:"type" yaml:"type"`
	Geometry    Geometry `json:"geometry" yaml:"geometry"`
	RiskLevel   int      `json:"risk_level" yaml:"risk_level"`
	Active      bool     `json:"active" yaml:"active"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

type ZoneOp string

const (
	ZoneUpsert     ZoneOp = "upsert"
	ZoneDeactivate ZoneOp = "deactivate"
	ZoneDelete     ZoneOp = "delete"
)

// ZoneEvent is one administrative change from the zone feed.
type ZoneEvent struct {
	Op   ZoneOp   `json:"op"`
	Zone RiskZone `json:"zone"`
}

type AnomalyResult struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"anomaly_score"`
}

type RiskResult struct {
	RiskLevel     string             `json:"risk_level"`
	Probabilities map[string]float64 `json:"probabilities"`
	Confidence    float64            `json:"confidence"`
}

type TechnicalIssues struct {
	LowBattery   bool `json:"low_battery"`
	PoorGPS      bool `json:"poor_gps"`
	NearRiskZone bool `json:"near_risk_zone"`
}

type Factors struct {
	BehaviorAnomaly   bool               `json:"behavior_anomaly"`
	EnvironmentalRisk string             `json:"environmental_risk"`
	TechnicalIssues   TechnicalIssues    `json:"technical_issues"`
	GeofenceViolation bool               `json:"geofence_violation"`
	Penalties         map[string]float64 `json:"penalties"`
}

type ScoreResult struct {
	SafetyScore        int                `json:"safety_score"`
	RiskLevel          string             `json:"risk_level"`
	AnomalyDetected    bool               `json:"anomaly_detected"`
	AnomalyConfidence  float64            `json:"anomaly_confidence"`
	RiskProbabilities  map[string]float64 `json:"risk_probabilities"`
	Factors            Factors            `json:"factors"`
	GeofenceViolations []string           `json:"geofence_violations"`
}

type Alert struct {
	Type     string         `json:"type"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence"`
}

// AlertRecord is an alert as kept by the stores and publishers.
type AlertRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Alert
}

// Assessment is the full outcome for one ingested sample.
type Assessment struct {
	ID        string      `json:"id"`
	DeviceID  string      `json:"device_id"`
	SubjectID string      `json:"subject_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source,omitempty"`
	Score     ScoreResult `json:"score"`
	Alerts    []Alert     `json:"alerts"`
}

// DeviceWindow summarises recent assessments of one device.
type DeviceWindow struct {
	WindowSec    int     `json:"window_sec"`
	Samples      int     `json:"samples"`
	Anomalies    int     `json:"anomalies"`
	Alerts       int     `json:"alerts"`
	MeanScore    float64 `json:"mean_score"`
	MinScore     int     `json:"min_score"`
	ScoreStdDev  float64 `json:"score_stddev"`
	AnomalyRatio float64 `json:"anomaly_ratio"`
}
