// Package forest implements a random forest of CART classification trees.
package forest

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Node is one tree node. Leaves have Left == -1 and carry the class
// distribution of the training rows that reached them.
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Dist      []float64
}

type Tree struct {
	Nodes []Node
}

// Classifier is a trained forest; exported fields keep it gob encodable.
type Classifier struct {
	Classes  int
	Features int
	Trees    []Tree
}

type options struct {
	nTrees         int
	maxFeatures    int
	maxDepth       int
	minSamplesLeaf int
	seed           int64
}

type Option func(*options)

func WithTrees(n int) Option {
	return func(o *options) { o.nTrees = n }
}

// WithMaxFeatures sets how many features each split considers. Zero means
// sqrt of the feature count.
func WithMaxFeatures(n int) Option {
	return func(o *options) { o.maxFeatures = n }
}

// WithMaxDepth bounds tree depth; zero grows until leaves are pure.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

func WithMinSamplesLeaf(n int) Option {
	return func(o *options) { o.minSamplesLeaf = n }
}

func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// Fit grows bootstrapped trees over X with integer labels y in [0, classes).
func Fit(X [][]float64, y []int, classes int, opts ...Option) (*Classifier, error) {
	o := options{nTrees: 100, minSamplesLeaf: 1, seed: 42}
	for _, opt := range opts {
		opt(&o)
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, errors.New("training data and labels must be non-empty and aligned")
	}
	if classes < 2 {
		return nil, errors.New("need at least two classes")
	}
	nFeatures := len(X[0])
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, errors.New("ragged training data")
		}
		if y[i] < 0 || y[i] >= classes {
			return nil, errors.New("label out of range")
		}
	}
	mtry := o.maxFeatures
	if mtry <= 0 || mtry > nFeatures {
		mtry = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	if o.minSamplesLeaf < 1 {
		o.minSamplesLeaf = 1
	}

	c := &Classifier{Classes: classes, Features: nFeatures, Trees: make([]Tree, o.nTrees)}
	rng := rand.New(rand.NewSource(o.seed))
	for t := range c.Trees {
		rows := make([]int, len(X))
		for i := range rows {
			rows[i] = rng.Intn(len(X))
		}
		g := grower{X: X, y: y, classes: classes, mtry: mtry, opts: o, rng: rng}
		g.grow(rows, 0)
		c.Trees[t] = Tree{Nodes: g.nodes}
	}
	return c, nil
}

type grower struct {
	X       [][]float64
	y       []int
	classes int
	mtry    int
	opts    options
	rng     *rand.Rand
	nodes   []Node
}

func (g *grower) grow(rows []int, depth int) int32 {
	counts := make([]float64, g.classes)
	for _, r := range rows {
		counts[g.y[r]]++
	}
	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, Node{Left: -1, Right: -1})

	leaf := func() int32 {
		dist := make([]float64, g.classes)
		for k, v := range counts {
			dist[k] = v / float64(len(rows))
		}
		g.nodes[idx].Dist = dist
		return idx
	}
	if gini(counts, float64(len(rows))) == 0 ||
		len(rows) < 2*g.opts.minSamplesLeaf ||
		(g.opts.maxDepth > 0 && depth >= g.opts.maxDepth) {
		return leaf()
	}

	feature, threshold, ok := g.bestSplit(rows, counts)
	if !ok {
		return leaf()
	}
	var left, right []int
	for _, r := range rows {
		if g.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := g.grow(left, depth+1)
	rt := g.grow(right, depth+1)
	g.nodes[idx].Feature = feature
	g.nodes[idx].Threshold = threshold
	g.nodes[idx].Left = l
	g.nodes[idx].Right = rt
	return idx
}

// bestSplit searches mtry random features for the threshold with the lowest
// weighted gini impurity. When none of the drawn features can split, the
// remaining ones are tried before giving up.
func (g *grower) bestSplit(rows []int, counts []float64) (int, float64, bool) {
	n := float64(len(rows))
	parent := gini(counts, n)
	bestScore := parent
	bestFeature, bestThreshold := -1, 0.0

	order := g.rng.Perm(len(g.X[0]))
	sorted := make([]int, len(rows))
	left := make([]float64, g.classes)
	right := make([]float64, g.classes)
	for visited, f := range order {
		if visited >= g.mtry && bestFeature >= 0 {
			break
		}
		copy(sorted, rows)
		sort.Slice(sorted, func(a, b int) bool { return g.X[sorted[a]][f] < g.X[sorted[b]][f] })
		for k := range left {
			left[k] = 0
			right[k] = counts[k]
		}
		minLeaf := g.opts.minSamplesLeaf
		for i := 0; i < len(sorted)-1; i++ {
			lbl := g.y[sorted[i]]
			left[lbl]++
			right[lbl]--
			cur, next := g.X[sorted[i]][f], g.X[sorted[i+1]][f]
			if cur == next {
				continue
			}
			nl := float64(i + 1)
			nr := n - nl
			if int(nl) < minLeaf || int(nr) < minLeaf {
				continue
			}
			score := (nl*gini(left, nl) + nr*gini(right, nr)) / n
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	sum := 1.0
	for _, c := range counts {
		p := c / n
		sum -= p * p
	}
	return sum
}

// PredictProba averages the leaf distributions of every tree.
func (c *Classifier) PredictProba(x []float64) []float64 {
	out := make([]float64, c.Classes)
	if len(c.Trees) == 0 {
		return out
	}
	for t := range c.Trees {
		nodes := c.Trees[t].Nodes
		i := int32(0)
		for nodes[i].Left >= 0 {
			if x[nodes[i].Feature] <= nodes[i].Threshold {
				i = nodes[i].Left
			} else {
				i = nodes[i].Right
			}
		}
		for k, p := range nodes[i].Dist {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(c.Trees))
	}
	return out
}
