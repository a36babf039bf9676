// Package anomaly scores feature vectors with a trained isolation forest.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"safeguard/internal/artifact"
	"safeguard/internal/features"
	"safeguard/internal/iforest"
	"safeguard/internal/model"
	"safeguard/internal/preprocess"
)

// Model is the anomaly artifact: the forest plus the preprocessing state it
// was trained with.
type Model struct {
	artifact.Header
	Columns  []string
	Scaler   preprocess.Scaler
	Encoders map[string]preprocess.LabelEncoder
	Forest   *iforest.Forest
}

// Validate checks the artifact is internally consistent.
func (m *Model) Validate() error {
	if m.Kind != artifact.KindAnomaly {
		return fmt.Errorf("artifact kind %q, want %q", m.Kind, artifact.KindAnomaly)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return errors.New("anomaly artifact has no trees")
	}
	if m.Forest.Features != len(m.Columns) {
		return model.SchemaMismatch("forest has %d features, artifact lists %d columns", m.Forest.Features, len(m.Columns))
	}
	if len(m.Scaler.Mean) != len(m.Scaler.Columns) || len(m.Scaler.Scale) != len(m.Scaler.Columns) {
		return errors.New("anomaly artifact scaler is malformed")
	}
	if got := preprocess.Fingerprint(m.Columns, m.Encoders); got != m.Fingerprint {
		return model.SchemaMismatch("artifact fingerprint %s does not match its columns (%s)", short(m.Fingerprint), short(got))
	}
	return nil
}

// DefaultConfidenceScale is the logistic slope applied to raw scores.
const DefaultConfidenceScale = 1.0

type Scorer struct {
	model *Model
	scale float64
	index map[string]int
}

// NewScorer binds a model to the live feature schema. It fails when the
// model was trained on a different column layout.
func NewScorer(m *Model, confidenceScale float64) (*Scorer, error) {
	if m == nil {
		return nil, model.ErrModelUnavailable
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(m.Columns, features.Schema()) {
		return nil, model.SchemaMismatch("model columns %v, deriver produces %v", m.Columns, features.Schema())
	}
	for _, c := range features.CategoricalColumns {
		if _, ok := m.Encoders[c]; !ok {
			return nil, model.SchemaMismatch("model has no encoder for %s", c)
		}
	}
	if confidenceScale <= 0 {
		confidenceScale = DefaultConfidenceScale
	}
	return &Scorer{model: m, scale: confidenceScale, index: preprocess.ColumnIndex(m.Columns)}, nil
}

func (s *Scorer) Model() *Model {
	return s.model
}

// Score is safe for concurrent use; it only reads the model.
func (s *Scorer) Score(v features.Vector) (model.AnomalyResult, error) {
	row, err := s.Row(v)
	if err != nil {
		return model.AnomalyResult{}, err
	}
	raw := s.model.Forest.Score(row)
	return model.AnomalyResult{
		IsAnomaly:  s.model.Forest.DecisionFromScore(raw) < 0,
		Confidence: Confidence(raw, s.scale),
		RawScore:   raw,
	}, nil
}

// Row builds the standardized model input for v.
func (s *Scorer) Row(v features.Vector) ([]float64, error) {
	if len(v.Values) != len(features.Columns) {
		return nil, model.SchemaMismatch("vector has %d numeric values, want %d", len(v.Values), len(features.Columns))
	}
	row := make([]float64, len(s.model.Columns))
	copy(row, v.Values)
	for i, c := range features.CategoricalColumns {
		value, ok := v.Categories[c]
		if !ok {
			return nil, model.SchemaMismatch("vector is missing category %s", c)
		}
		idx, err := s.model.Encoders[c].Index(c, value)
		if err != nil {
			return nil, err
		}
		row[len(features.Columns)+i] = float64(idx)
	}
	if err := s.model.Scaler.Apply(row, s.index); err != nil {
		return nil, err
	}
	return row, nil
}

// Confidence maps a raw score (lower is more anomalous) into (0, 1), rising
// as the score falls.
func Confidence(raw, scale float64) float64 {
	return 1 / (1 + math.Exp(scale*raw))
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
