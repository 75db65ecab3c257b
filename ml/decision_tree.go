package ml

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
)

const (
	featureThreshold = 1e-7
	impurityEpsilon  = 1e-12
)

var ErrNotTrained = errors.New("model not trained")

type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int
	Seed            uint64

	nodes     []TreeNode
	classes   []int
	nFeatures int
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth, MinSamplesSplit: 2}
}

// Train fits the tree on unit-weight samples, evaluating every feature at each split.
func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	classes, encoded := encodeLabels(labels)
	weights := make([]float64, len(features))
	for i := range weights {
		weights[i] = 1
	}
	rng := rand.New(rand.NewPCG(dt.Seed, dt.Seed))
	return dt.fit(features, encoded, weights, classes, rng)
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	dist, err := dt.proba(features)
	if err != nil {
		return 0, 0, err
	}
	best := argmax(dist)
	return dt.classes[best], dist[best], nil
}

func (dt *DecisionTree) Classes() []int {
	return append([]int(nil), dt.classes...)
}

func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	return dt.depth(0)
}

func (dt *DecisionTree) depth(idx int) int {
	node := dt.nodes[idx]
	if node.IsLeaf {
		return 0
	}
	left := dt.depth(node.LeftChild)
	right := dt.depth(node.RightChild)
	if left > right {
		return left + 1
	}
	return right + 1
}

// fit grows the tree on samples with positive weight. Labels are indices into classes.
func (dt *DecisionTree) fit(features [][]float64, labels []int, weights []float64, classes []int, rng *rand.Rand) error {
	dt.classes = classes
	dt.nFeatures = len(features[0])

	samples := make([]int, 0, len(features))
	for i, w := range weights {
		if w > 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return errors.New("no samples with positive weight")
	}

	b := &treeBuilder{
		features:        features,
		labels:          labels,
		weights:         weights,
		classes:         classes,
		nClasses:        len(classes),
		maxDepth:        dt.MaxDepth,
		minSamplesSplit: dt.MinSamplesSplit,
		maxFeatures:     dt.MaxFeatures,
		rng:             rng,
	}
	if b.minSamplesSplit < 2 {
		b.minSamplesSplit = 2
	}
	if b.maxFeatures <= 0 || b.maxFeatures > dt.nFeatures {
		b.maxFeatures = dt.nFeatures
	}

	dt.nodes = b.buildNode(samples, 0)
	return nil
}

func (dt *DecisionTree) proba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != dt.nFeatures {
		return nil, errors.New("feature count mismatch")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Distribution, nil
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

type treeBuilder struct {
	features        [][]float64
	labels          []int
	weights         []float64
	classes         []int
	nClasses        int
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	rng             *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	position  int
	ordered   []int
}

func (b *treeBuilder) buildNode(samples []int, depth int) []TreeNode {
	counts := b.classCounts(samples)
	leaf := b.leaf(counts)

	if (b.maxDepth > 0 && depth >= b.maxDepth) ||
		len(samples) < b.minSamplesSplit ||
		gini(counts) <= impurityEpsilon {
		return []TreeNode{leaf}
	}

	best, ok := b.findBestSplit(samples)
	if !ok {
		return []TreeNode{leaf}
	}

	leftSamples := best.ordered[:best.position]
	rightSamples := best.ordered[best.position:]

	leftNodes := b.buildNode(leftSamples, depth+1)
	rightNodes := b.buildNode(rightSamples, depth+1)

	root := TreeNode{
		FeatureIdx: best.feature,
		Threshold:  best.threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: leaf.ClassLabel,
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// findBestSplit visits features in random order until maxFeatures non-constant
// features have been evaluated. Constant features do not count toward the limit.
func (b *treeBuilder) findBestSplit(samples []int) (split, bool) {
	var best split
	bestImpurity := math.Inf(1)
	found := false
	visited := 0

	for _, featureIdx := range b.rng.Perm(len(b.features[0])) {
		if visited >= b.maxFeatures && found {
			break
		}

		ordered := append([]int(nil), samples...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return b.features[ordered[i]][featureIdx] < b.features[ordered[j]][featureIdx]
		})
		lo := b.features[ordered[0]][featureIdx]
		hi := b.features[ordered[len(ordered)-1]][featureIdx]
		if hi <= lo+featureThreshold {
			continue
		}
		visited++

		left := make([]float64, b.nClasses)
		right := b.classCounts(ordered)
		for pos := 1; pos < len(ordered); pos++ {
			moved := ordered[pos-1]
			w := b.weights[moved]
			left[b.labels[moved]] += w
			right[b.labels[moved]] -= w

			prev := b.features[moved][featureIdx]
			next := b.features[ordered[pos]][featureIdx]
			if next <= prev+featureThreshold {
				continue
			}

			impurity := weightedGini(left, right)
			if impurity < bestImpurity {
				threshold := prev/2 + next/2
				if threshold == next || math.IsInf(threshold, 0) {
					threshold = prev
				}
				bestImpurity = impurity
				best = split{feature: featureIdx, threshold: threshold, position: pos}
				best.ordered = ordered
				found = true
			}
		}
	}
	return best, found
}

func (b *treeBuilder) classCounts(samples []int) []float64 {
	counts := make([]float64, b.nClasses)
	for _, s := range samples {
		counts[b.labels[s]] += b.weights[s]
	}
	return counts
}

func (b *treeBuilder) leaf(counts []float64) TreeNode {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	dist := make([]float64, len(counts))
	for i, c := range counts {
		dist[i] = c / total
	}
	return TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   b.classes[argmax(dist)],
		IsLeaf:       true,
		Distribution: dist,
	}
}

func offsetNodes(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

func weightedGini(left, right []float64) float64 {
	leftWeight := sum(left)
	rightWeight := sum(right)
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(left) + (rightWeight/total)*gini(right)
}

func gini(counts []float64) float64 {
	total := sum(counts)
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := count / total
		impurity -= prob * prob
	}
	return impurity
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// argmax returns the first index of the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func encodeLabels(labels []int) ([]int, []int) {
	seen := make(map[int]struct{})
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Ints(classes)

	index := make(map[int]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded := make([]int, len(labels))
	for i, label := range labels {
		encoded[i] = index[label]
	}
	return classes, encoded
}

func validateTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("features have no columns")
	}
	for _, row := range features {
		if len(row) != width {
			return errors.New("ragged feature matrix")
		}
	}
	return nil
}
