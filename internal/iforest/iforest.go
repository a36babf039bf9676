// Package iforest implements the Isolation Forest outlier model used by the
// anomaly scorer.
package iforest

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Node is one isolation tree node. Leaves have Left == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Size      int32
}

type Tree struct {
	Nodes []Node
}

// Forest is a trained isolation forest. All fields are exported so the
// model survives gob encoding inside an artifact.
type Forest struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	MaxDepth      int
	Features      int
	Trees         []Tree
	// Offset is the contamination percentile of the training scores;
	// samples scoring below it are outliers.
	Offset float64
}

type options struct {
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
}

// Option configures Fit.
type Option func(*options)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(o *options) {
		o.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(o *options) {
		o.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(o *options) {
		o.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Fit trains a forest on data, which is presumed to be normal.
func Fit(data [][]float64, opts ...Option) (*Forest, error) {
	o := options{nTrees: 100, sampleSize: 256, contamination: 0.1, seed: 42}
	for _, opt := range opts {
		opt(&o)
	}
	if len(data) == 0 {
		return nil, errors.New("empty training data")
	}
	if o.nTrees <= 0 || o.sampleSize <= 0 {
		return nil, errors.New("trees and sample size must be positive")
	}
	if o.contamination <= 0 || o.contamination >= 0.5 {
		return nil, errors.New("contamination must be in (0, 0.5)")
	}
	nFeatures := len(data[0])
	for _, row := range data {
		if len(row) != nFeatures {
			return nil, errors.New("ragged training data")
		}
	}

	sampleSize := o.sampleSize
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	f := &Forest{
		NTrees:        o.nTrees,
		SampleSize:    sampleSize,
		Contamination: o.contamination,
		MaxDepth:      int(math.Ceil(math.Log2(math.Max(2, float64(sampleSize))))),
		Features:      nFeatures,
		Trees:         make([]Tree, o.nTrees),
	}
	rng := rand.New(rand.NewSource(o.seed))
	for i := range f.Trees {
		indices := rng.Perm(len(data))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		b := builder{rng: rng, maxDepth: f.MaxDepth, features: nFeatures}
		b.build(sample, 0)
		f.Trees[i] = Tree{Nodes: b.nodes}
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.Score(row)
	}
	f.Offset = percentile(scores, 100*o.contamination)
	return f, nil
}

type builder struct {
	rng      *rand.Rand
	maxDepth int
	features int
	nodes    []Node
}

func (b *builder) build(data [][]float64, depth int) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: int32(len(data))})
	if depth >= b.maxDepth || len(data) <= 1 {
		return idx
	}

	// Only features that still vary can split this node.
	candidates := make([]int, 0, b.features)
	mins := make([]float64, b.features)
	maxs := make([]float64, b.features)
	for j := 0; j < b.features; j++ {
		lo, hi := data[0][j], data[0][j]
		for _, row := range data[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		mins[j], maxs[j] = lo, hi
		if lo < hi {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return idx
	}
	feature := candidates[b.rng.Intn(len(candidates))]
	split := mins[feature] + b.rng.Float64()*(maxs[feature]-mins[feature])

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = split
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// Score returns the negated anomaly score -2^(-E[h(x)]/c(n)) in [-1, 0).
// Lower values are more anomalous.
func (f *Forest) Score(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for i := range f.Trees {
		total += pathLength(f.Trees[i].Nodes, sample)
	}
	avg := total / float64(len(f.Trees))
	c := averagePathLength(float64(f.SampleSize))
	if c == 0 {
		c = 1
	}
	return -math.Pow(2, -avg/c)
}

// Decision is Score shifted by the training offset; negative means outlier.
func (f *Forest) Decision(sample []float64) float64 {
	return f.DecisionFromScore(f.Score(sample))
}

// DecisionFromScore applies the offset to a score already computed by Score.
func (f *Forest) DecisionFromScore(score float64) float64 {
	return score - f.Offset
}

func pathLength(nodes []Node, sample []float64) float64 {
	var depth float64
	i := int32(0)
	for {
		n := nodes[i]
		if n.Left < 0 {
			return depth + averagePathLength(float64(n.Size))
		}
		if sample[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean unsuccessful search length of a BST.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// percentile uses linear interpolation between closest ranks.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}
