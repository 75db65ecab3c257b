package ml

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"minedetect/pipeline"
)

var (
	ErrPipelineNotReady = errors.New("pipeline not ready: fit has not completed")
	ErrAlreadyFitted    = errors.New("pipeline already fitted")
)

// Pipeline moves one way from unfitted to fitted. The fitted model is published
// through an atomic pointer and is never written again, so Predict needs no lock.
type Pipeline struct {
	model MLModel

	mu     sync.Mutex
	fitted atomic.Pointer[fittedModel]
}

type fittedModel struct {
	model   MLModel
	classes []int
	samples int
}

func NewPipeline(model MLModel) *Pipeline {
	return &Pipeline{model: model}
}

func (p *Pipeline) Fit(records []pipeline.SensorRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fitted.Load() != nil {
		return ErrAlreadyFitted
	}
	if len(records) == 0 {
		return errors.New("fit: no training records")
	}

	features := make([][]float64, len(records))
	labels := make([]int, len(records))
	for i, r := range records {
		features[i] = r.Vector()
		labels[i] = r.Mine
	}
	if err := p.model.Train(features, labels); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	p.fitted.Store(&fittedModel{
		model:   p.model,
		classes: p.model.Classes(),
		samples: len(records),
	})
	return nil
}

func (p *Pipeline) Fitted() bool {
	return p.fitted.Load() != nil
}

func (p *Pipeline) Predict(voltage, height, soil float64) (int, error) {
	class, _, err := p.PredictProba(voltage, height, soil)
	return class, err
}

// PredictProba returns the predicted class and the share of the ensemble vote behind it.
func (p *Pipeline) PredictProba(voltage, height, soil float64) (int, float64, error) {
	m := p.fitted.Load()
	if m == nil {
		return 0, 0, ErrPipelineNotReady
	}
	return m.model.Predict([]float64{voltage, height, soil})
}

func (p *Pipeline) Classes() ([]int, error) {
	m := p.fitted.Load()
	if m == nil {
		return nil, ErrPipelineNotReady
	}
	return append([]int(nil), m.classes...), nil
}

func (p *Pipeline) Samples() int {
	m := p.fitted.Load()
	if m == nil {
		return 0
	}
	return m.samples
}
