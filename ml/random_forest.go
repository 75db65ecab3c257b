package ml

import (
	"errors"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type ForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int
	Seed            uint64
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

type RandomForest struct {
	config    ForestConfig
	trees     []*DecisionTree
	classes   []int
	nFeatures int
}

func NewRandomForest(config ForestConfig) *RandomForest {
	if config.Trees <= 0 {
		config.Trees = DefaultForestConfig().Trees
	}
	if config.MinSamplesSplit < 2 {
		config.MinSamplesSplit = 2
	}
	return &RandomForest{config: config}
}

// Train grows every tree on its own bootstrap sample. Tree seeds are drawn up
// front from the forest seed, so the result does not depend on scheduling.
func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	classes, encoded := encodeLabels(labels)
	nFeatures := len(features[0])

	maxFeatures := rf.config.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}

	master := rand.New(rand.NewPCG(rf.config.Seed, rf.config.Seed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, rf.config.Trees)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	trees := make([]*DecisionTree, rf.config.Trees)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[i], uint64(i)))
			weights := bootstrapWeights(len(features), rng)
			tree := &DecisionTree{
				MaxDepth:        rf.config.MaxDepth,
				MinSamplesSplit: rf.config.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
				Seed:            seeds[i],
			}
			if err := tree.fit(features, encoded, weights, classes, rng); err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	rf.classes = classes
	rf.nFeatures = nFeatures
	return nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	dist, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	best := argmax(dist)
	return rf.classes[best], dist[best], nil
}

// PredictProba averages the per-tree class distributions, ordered as Classes().
func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != rf.nFeatures {
		return nil, errors.New("feature count mismatch")
	}
	avg := make([]float64, len(rf.classes))
	for _, tree := range rf.trees {
		dist, err := tree.proba(features)
		if err != nil {
			return nil, err
		}
		for i, p := range dist {
			avg[i] += p
		}
	}
	for i := range avg {
		avg[i] /= float64(len(rf.trees))
	}
	return avg, nil
}

func (rf *RandomForest) Classes() []int {
	return append([]int(nil), rf.classes...)
}

func (rf *RandomForest) Trees() int {
	return len(rf.trees)
}

// bootstrapWeights draws n samples with replacement and returns per-sample counts.
func bootstrapWeights(n int, rng *rand.Rand) []float64 {
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[rng.IntN(n)]++
	}
	return weights
}
