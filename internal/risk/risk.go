// Package risk classifies contextual conditions into a risk level.
package risk

import (
	"errors"
	"fmt"
	"slices"

	"safeguard/internal/artifact"
	"safeguard/internal/forest"
	"safeguard/internal/model"
	"safeguard/internal/preprocess"
)

var CategoricalColumns = []string{"weather_risk", "terrain_type", "time_of_day", "season", "tourist_experience"}

// Columns is the model input order.
var Columns = []string{
	"weather_risk_encoded",
	"terrain_type_encoded",
	"time_of_day_encoded",
	"season_encoded",
	"tourist_experience_encoded",
	"group_size",
	"has_guide",
	"emergency_equipment",
	"elevation",
	"temperature",
	"humidity",
}

// ScaledColumns are standardized; the rest enter the model as-is.
var ScaledColumns = []string{"group_size", "elevation", "temperature", "humidity"}

type Model struct {
	artifact.Header
	Columns  []string
	Encoders map[string]preprocess.LabelEncoder
	Scaler   preprocess.Scaler
	// Labels maps forest class indices to risk levels.
	Labels []string
	Forest *forest.Classifier
}

func (m *Model) Validate() error {
	if m.Kind != artifact.KindRisk {
		return fmt.Errorf("artifact kind %q, want %q", m.Kind, artifact.KindRisk)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return errors.New("risk artifact has no trees")
	}
	if m.Forest.Features != len(m.Columns) {
		return model.SchemaMismatch("forest has %d features, artifact lists %d columns", m.Forest.Features, len(m.Columns))
	}
	if m.Forest.Classes != len(m.Labels) {
		return fmt.Errorf("forest has %d classes, artifact lists %d labels", m.Forest.Classes, len(m.Labels))
	}
	for _, lvl := range model.RiskLevels {
		if !slices.Contains(m.Labels, lvl) {
			return fmt.Errorf("risk artifact is missing label %q", lvl)
		}
	}
	if got := preprocess.Fingerprint(m.Columns, m.Encoders); got != m.Fingerprint {
		return model.SchemaMismatch("risk artifact fingerprint does not match its columns")
	}
	return nil
}

type Classifier struct {
	model *Model
	index map[string]int
}

func NewClassifier(m *Model) (*Classifier, error) {
	if m == nil {
		return nil, model.ErrModelUnavailable
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(m.Columns, Columns) {
		return nil, model.SchemaMismatch("risk model columns %v, want %v", m.Columns, Columns)
	}
	for _, c := range CategoricalColumns {
		if _, ok := m.Encoders[c]; !ok {
			return nil, model.SchemaMismatch("risk model has no encoder for %s", c)
		}
	}
	return &Classifier{model: m, index: preprocess.ColumnIndex(m.Columns)}, nil
}

func (c *Classifier) Model() *Model {
	return c.model
}

// Classify returns the full distribution over every risk level.
func (c *Classifier) Classify(ctx model.RiskContext) (model.RiskResult, error) {
	if err := ValidateContext(ctx); err != nil {
		return model.RiskResult{}, err
	}
	row, err := EncodeRow(ctx, c.model.Encoders)
	if err != nil {
		return model.RiskResult{}, err
	}
	if err := c.model.Scaler.Apply(row, c.index); err != nil {
		return model.RiskResult{}, err
	}
	proba := c.model.Forest.PredictProba(row)

	probs := make(map[string]float64, len(model.RiskLevels))
	for _, lvl := range model.RiskLevels {
		probs[lvl] = 0
	}
	for k, p := range proba {
		probs[c.model.Labels[k]] += p
	}
	level := model.RiskLow
	best := -1.0
	for _, lvl := range model.RiskLevels {
		if probs[lvl] > best {
			best = probs[lvl]
			level = lvl
		}
	}
	return model.RiskResult{RiskLevel: level, Probabilities: probs, Confidence: best}, nil
}

func ValidateContext(ctx model.RiskContext) error {
	if ctx.GroupSize < 1 {
		return model.InvalidField("group_size", ctx.GroupSize, "must be at least 1")
	}
	return nil
}

// EncodeRow produces the unscaled model input in Columns order.
func EncodeRow(ctx model.RiskContext, encoders map[string]preprocess.LabelEncoder) ([]float64, error) {
	values := []string{ctx.WeatherRisk, ctx.TerrainType, ctx.TimeOfDay, ctx.Season, ctx.TouristExperience}
	row := make([]float64, 0, len(Columns))
	for i, col := range CategoricalColumns {
		idx, err := encoders[col].Index(col, values[i])
		if err != nil {
			return nil, err
		}
		row = append(row, float64(idx))
	}
	row = append(row,
		ctx.GroupSize,
		b2f(ctx.HasGuide),
		b2f(ctx.EmergencyEquipment),
		ctx.Elevation,
		ctx.Temperature,
		ctx.Humidity,
	)
	return row, nil
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
