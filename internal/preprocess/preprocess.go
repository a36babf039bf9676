// Package preprocess holds the training-time scaling and encoding state that
// ships inside model artifacts.
package preprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"safeguard/internal/model"
)

// Scaler standardizes a subset of columns with fixed mean and scale.
type Scaler struct {
	Columns []string
	Mean    []float64
	Scale   []float64
}

// FitScaler computes population mean/std per column of data. Columns with
// zero variance get scale 1.
func FitScaler(columns []string, data [][]float64) (Scaler, error) {
	if len(data) == 0 {
		return Scaler{}, errors.New("empty training data")
	}
	n := len(columns)
	s := Scaler{Columns: append([]string(nil), columns...), Mean: make([]float64, n), Scale: make([]float64, n)}
	for _, row := range data {
		if len(row) != n {
			return Scaler{}, fmt.Errorf("row width %d, want %d", len(row), n)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= float64(len(data))
	}
	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / float64(len(data)))
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Apply standardizes the scaler's columns inside row in place. index maps a
// column name to its position in row.
func (s Scaler) Apply(row []float64, index map[string]int) error {
	for j, col := range s.Columns {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return model.SchemaMismatch("scaled column %q not in input", col)
		}
		row[i] = (row[i] - s.Mean[j]) / s.Scale[j]
	}
	return nil
}

// LabelEncoder maps category labels to their index in sorted order.
type LabelEncoder struct {
	Classes []string
}

func FitLabelEncoder(values []string) LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return LabelEncoder{Classes: classes}
}

func (e LabelEncoder) Index(field, value string) (int, error) {
	i := sort.SearchStrings(e.Classes, value)
	if i < len(e.Classes) && e.Classes[i] == value {
		return i, nil
	}
	return 0, model.UnknownCategory(field, value)
}

// Fingerprint identifies an input schema: ordered columns plus every
// category-to-index mapping.
func Fingerprint(columns []string, encoders map[string]LabelEncoder) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, ","))
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		for i, c := range encoders[name].Classes {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(c)
			b.WriteString(":")
			b.WriteString(strconv.Itoa(i))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ColumnIndex returns name -> position for columns.
func ColumnIndex(columns []string) map[string]int {
	out := make(map[string]int, len(columns))
	for i, c := range columns {
		out[c] = i
	}
	return out
}
