package engine

import (
	"safeguard/internal/features"
	"safeguard/internal/model"
	"safeguard/internal/registry"
	"safeguard/internal/scoring"
)

// ModelSource hands out the current immutable model pair.
type ModelSource interface {
	Current() (*registry.Models, error)
}

// ZoneSource answers containment queries; implementations must not block.
type ZoneSource interface {
	Violations(lat, lon float64) []model.RiskZone
}

// Result is the outcome of scoring one sample.
type Result struct {
	Score      model.ScoreResult
	Alerts     []model.Alert
	Anomaly    model.AnomalyResult
	Risk       model.RiskResult
	Violations []model.RiskZone
	Flags      features.Flags
}

// Pipeline runs derive, anomaly, risk, geofence, combine and alerts for a
// single sample. It holds no mutable state and performs no I/O, so one
// Pipeline serves any number of concurrent callers.
type Pipeline struct {
	models ModelSource
	zones  ZoneSource
}

func NewPipeline(models ModelSource, zones ZoneSource) *Pipeline {
	return &Pipeline{models: models, zones: zones}
}

// Score fails with exactly one typed error and never returns a partial
// result.
func (p *Pipeline) Score(s model.TelemetrySample) (Result, error) {
	m, err := p.models.Current()
	if err != nil {
		return Result{}, err
	}
	ctx := model.DefaultRiskContext()
	if s.Context != nil {
		ctx = *s.Context
	}

	vec := features.Derive(s)
	an, err := m.Anomaly.Score(vec)
	if err != nil {
		return Result{}, err
	}
	rk, err := m.Risk.Classify(ctx)
	if err != nil {
		return Result{}, err
	}
	var violations []model.RiskZone
	if s.HasLocation && p.zones != nil {
		violations = p.zones.Violations(s.Latitude, s.Longitude)
	}

	score := scoring.Combine(an, rk, violations, s)
	return Result{
		Score:      score,
		Alerts:     Alerts(s.Vitals, s.Environment, s.Device, an, violations),
		Anomaly:    an,
		Risk:       rk,
		Violations: violations,
		Flags:      vec.Flags,
	}, nil
}
