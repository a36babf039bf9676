// Package registry owns the loaded model artifacts. Handles are immutable;
// the only mutation is a wholesale swap.
package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"safeguard/internal/anomaly"
	"safeguard/internal/artifact"
	"safeguard/internal/model"
	"safeguard/internal/risk"
)

type Version struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	Fingerprint string    `json:"fingerprint"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// Models is one consistent pair of scorers.
type Models struct {
	Anomaly        *anomaly.Scorer
	Risk           *risk.Classifier
	AnomalyVersion Version
	RiskVersion    Version
}

type Registry struct {
	current atomic.Pointer[Models]
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Current returns the loaded models or ErrModelUnavailable.
func (r *Registry) Current() (*Models, error) {
	m := r.current.Load()
	if m == nil {
		return nil, model.ErrModelUnavailable
	}
	return m, nil
}

func (r *Registry) Loaded() bool {
	return r.current.Load() != nil
}

// Swap publishes a new pair. A nil pair is rejected so Loaded never goes
// back to false.
func (r *Registry) Swap(m *Models) error {
	if m == nil || m.Anomaly == nil || m.Risk == nil {
		return fmt.Errorf("%w: incomplete model set", model.ErrModelUnavailable)
	}
	r.current.Store(m)
	r.logger.Info("models loaded",
		"anomaly_version", m.AnomalyVersion.Version,
		"anomaly_checksum", short(m.AnomalyVersion.Checksum),
		"risk_version", m.RiskVersion.Version,
		"risk_checksum", short(m.RiskVersion.Checksum),
	)
	return nil
}

// Load reads both artifacts and swaps them in. On any failure the previous
// models stay active.
func (r *Registry) Load(anomalyPath, riskPath string, confidenceScale float64) error {
	m, err := LoadModels(anomalyPath, riskPath, confidenceScale)
	if err != nil {
		r.logger.Error("model load failed", "anomaly_path", anomalyPath, "risk_path", riskPath, "error", err)
		return err
	}
	return r.Swap(m)
}

func LoadModels(anomalyPath, riskPath string, confidenceScale float64) (*Models, error) {
	now := time.Now().UTC()

	var am anomaly.Model
	sum, err := artifact.ReadFile(anomalyPath, &am)
	if err != nil {
		return nil, fmt.Errorf("%w: anomaly artifact: %v", model.ErrModelUnavailable, err)
	}
	scorer, err := anomaly.NewScorer(&am, confidenceScale)
	if err != nil {
		return nil, fmt.Errorf("anomaly artifact %s: %w", anomalyPath, err)
	}

	var rm risk.Model
	rsum, err := artifact.ReadFile(riskPath, &rm)
	if err != nil {
		return nil, fmt.Errorf("%w: risk artifact: %v", model.ErrModelUnavailable, err)
	}
	clf, err := risk.NewClassifier(&rm)
	if err != nil {
		return nil, fmt.Errorf("risk artifact %s: %w", riskPath, err)
	}

	return &Models{
		Anomaly: scorer,
		Risk:    clf,
		AnomalyVersion: Version{
			Name:        filepath.Base(anomalyPath),
			Version:     am.Version,
			Checksum:    sum,
			Fingerprint: am.Fingerprint,
			LoadedAt:    now,
		},
		RiskVersion: Version{
			Name:        filepath.Base(riskPath),
			Version:     rm.Version,
			Checksum:    rsum,
			Fingerprint: rm.Fingerprint,
			LoadedAt:    now,
		},
	}, nil
}

// FromModels wraps in-memory artifacts, as produced by the trainer.
func FromModels(am *anomaly.Model, rm *risk.Model, confidenceScale float64) (*Models, error) {
	scorer, err := anomaly.NewScorer(am, confidenceScale)
	if err != nil {
		return nil, err
	}
	clf, err := risk.NewClassifier(rm)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Models{
		Anomaly:        scorer,
		Risk:           clf,
		AnomalyVersion: Version{Name: "memory", Version: am.Version, Fingerprint: am.Fingerprint, LoadedAt: now},
		RiskVersion:    Version{Name: "memory", Version: rm.Version, Fingerprint: rm.Fingerprint, LoadedAt: now},
	}, nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
