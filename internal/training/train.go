package training

import (
	"errors"
	"time"

	"safeguard/internal/anomaly"
	"safeguard/internal/artifact"
	"safeguard/internal/features"
	"safeguard/internal/forest"
	"safeguard/internal/iforest"
	"safeguard/internal/model"
	"safeguard/internal/preprocess"
	"safeguard/internal/risk"
)

type Options struct {
	Version        string
	Seed           int64
	AnomalySamples int
	RiskSamples    int
	AnomalyTrees   int
	RiskTrees      int
	Contamination  float64
}

func DefaultOptions() Options {
	return Options{
		Version:        "v1",
		Seed:           42,
		AnomalySamples: 10000,
		RiskSamples:    5000,
		AnomalyTrees:   100,
		RiskTrees:      100,
		Contamination:  0.1,
	}
}

// TrainAnomaly fits the scaler on every sample and the forest on the normal
// ones only.
func TrainAnomaly(opts Options) (*anomaly.Model, error) {
	samples := AnomalySamples(opts.AnomalySamples, opts.Seed)
	if len(samples) == 0 {
		return nil, errors.New("no anomaly samples")
	}
	columns := features.Schema()
	encoders := map[string]preprocess.LabelEncoder{
		features.SpeedCategoryColumn: preprocess.FitLabelEncoder(features.SpeedCategories),
	}

	rows := make([][]float64, len(samples))
	for i, ls := range samples {
		v := features.Derive(ls.Sample)
		row := append([]float64(nil), v.Values...)
		idx, err := encoders[features.SpeedCategoryColumn].Index(features.SpeedCategoryColumn, v.Categories[features.SpeedCategoryColumn])
		if err != nil {
			return nil, err
		}
		rows[i] = append(row, float64(idx))
	}
	scaler, err := preprocess.FitScaler(columns, rows)
	if err != nil {
		return nil, err
	}
	index := preprocess.ColumnIndex(columns)
	normal := make([][]float64, 0, len(rows))
	for i, row := range rows {
		if err := scaler.Apply(row, index); err != nil {
			return nil, err
		}
		if !samples[i].Anomaly {
			normal = append(normal, row)
		}
	}
	f, err := iforest.Fit(normal,
		iforest.WithTrees(opts.AnomalyTrees),
		iforest.WithContamination(opts.Contamination),
		iforest.WithSeed(opts.Seed),
	)
	if err != nil {
		return nil, err
	}
	return &anomaly.Model{
		Header: artifact.Header{
			Kind:        artifact.KindAnomaly,
			Version:     opts.Version,
			CreatedAt:   time.Now().UTC(),
			Fingerprint: preprocess.Fingerprint(columns, encoders),
		},
		Columns:  columns,
		Scaler:   scaler,
		Encoders: encoders,
		Forest:   f,
	}, nil
}

func TrainRisk(opts Options) (*risk.Model, error) {
	data := RiskContexts(opts.RiskSamples, opts.Seed)
	if len(data) == 0 {
		return nil, errors.New("no risk samples")
	}
	encoders := map[string]preprocess.LabelEncoder{
		"weather_risk":       preprocess.FitLabelEncoder(weathers),
		"terrain_type":       preprocess.FitLabelEncoder(terrains),
		"time_of_day":        preprocess.FitLabelEncoder(timesOfDay),
		"season":             preprocess.FitLabelEncoder(seasons),
		"tourist_experience": preprocess.FitLabelEncoder(experiences),
	}
	labels := append([]string(nil), model.RiskLevels...)
	labelIndex := preprocess.ColumnIndex(labels)

	rows := make([][]float64, len(data))
	y := make([]int, len(data))
	numeric := make([][]float64, len(data))
	index := preprocess.ColumnIndex(risk.Columns)
	for i, lc := range data {
		row, err := risk.EncodeRow(lc.Context, encoders)
		if err != nil {
			return nil, err
		}
		rows[i] = row
		y[i] = labelIndex[lc.Level]
		n := make([]float64, len(risk.ScaledColumns))
		for j, col := range risk.ScaledColumns {
			n[j] = row[index[col]]
		}
		numeric[i] = n
	}
	scaler, err := preprocess.FitScaler(risk.ScaledColumns, numeric)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := scaler.Apply(row, index); err != nil {
			return nil, err
		}
	}
	clf, err := forest.Fit(rows, y, len(labels),
		forest.WithTrees(opts.RiskTrees),
		forest.WithSeed(opts.Seed),
	)
	if err != nil {
		return nil, err
	}
	columns := append([]string(nil), risk.Columns...)
	return &risk.Model{
		Header: artifact.Header{
			Kind:        artifact.KindRisk,
			Version:     opts.Version,
			CreatedAt:   time.Now().UTC(),
			Fingerprint: preprocess.Fingerprint(columns, encoders),
		},
		Columns:  columns,
		Encoders: encoders,
		Scaler:   scaler,
		Labels:   labels,
		Forest:   clf,
	}, nil
}

// SmallOptions trades fidelity for speed; tests train with it.
func SmallOptions() Options {
	return Options{
		Version:        "test",
		Seed:           42,
		AnomalySamples: 4000,
		RiskSamples:    2000,
		AnomalyTrees:   60,
		RiskTrees:      30,
		Contamination:  0.1,
	}
}
