package ml

import (
	"fmt"
)

const (
	ModelRandomForest = "random_forest"
	ModelDecisionTree = "decision_tree"
)

func NewModel(modelType string, config ForestConfig) (MLModel, error) {
	switch modelType {
	case "", ModelRandomForest:
		return NewRandomForest(config), nil
	case ModelDecisionTree:
		return &DecisionTree{
			MaxDepth:        config.MaxDepth,
			MinSamplesSplit: config.MinSamplesSplit,
			MaxFeatures:     config.MaxFeatures,
			Seed:            config.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
