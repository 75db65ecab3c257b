package mine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"minedetect/ml"
	"minedetect/pipeline"
)

// Detection is the result of one prediction request.
type Detection struct {
	ID         string            `json:"id"`
	Request    PredictionRequest `json:"request"`
	Class      int               `json:"class"`
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Advisory   Advisory          `json:"advisory"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Sink receives every detection after it has been produced.
type Sink interface {
	Publish(ctx context.Context, d Detection) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Detection) error

func (f SinkFunc) Publish(ctx context.Context, d Detection) error {
	return f(ctx, d)
}

// BuildConfig selects the dataset and classifier used at startup.
type BuildConfig struct {
	Dataset   pipeline.LoaderConfig
	ModelType string
	Forest    ml.ForestConfig
}

type Option func(*Detector)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithSinks(sinks ...Sink) Option {
	return func(d *Detector) {
		d.sinks = append(d.sinks, sinks...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(d *Detector) {
		d.newID = newID
	}
}

// Detector owns the cleaned dataset, the fitted pipeline and the derived
// bounds. It is built once and only read afterwards.
type Detector struct {
	dataset  *pipeline.Dataset
	bounds   Bounds
	pipeline *ml.Pipeline
	classes  []int

	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Build loads and cleans the dataset, fits the classifier and returns the
// detection context. Any error here is fatal for the process.
func Build(config BuildConfig, opts ...Option) (*Detector, error) {
	dataset, err := pipeline.Load(config.Dataset)
	if err != nil {
		return nil, err
	}

	model, err := ml.NewModel(config.ModelType, config.Forest)
	if err != nil {
		return nil, err
	}
	p := ml.NewPipeline(model)
	if err := p.Fit(dataset.Records); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	return NewDetector(dataset, p, opts...)
}

// NewDetector wraps an already fitted pipeline. It fails if the pipeline is
// not fitted or if the model can emit a class without a display name.
func NewDetector(dataset *pipeline.Dataset, p *ml.Pipeline, opts ...Option) (*Detector, error) {
	classes, err := p.Classes()
	if err != nil {
		return nil, err
	}
	if err := CheckLabels(classes); err != nil {
		return nil, fmt.Errorf("label table incomplete: %w", err)
	}

	d := &Detector{
		dataset:  dataset,
		bounds:   BoundsOf(dataset),
		pipeline: p,
		classes:  classes,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, code := range d.bounds.SoilValues {
		if _, ok := SoilTypeName(code); !ok {
			d.logger.Warn("soil code without description", zap.Float64("soil", code))
		}
	}
	d.logger.Info("detector ready",
		zap.String("source", dataset.Source),
		zap.Int("samples", len(dataset.Records)),
		zap.Int64("rejected_rows", dataset.Stats.Rejected),
		zap.Ints("classes", classes),
	)
	return d, nil
}

// Detect predicts the mine type for one request. Out-of-range inputs are
// flagged on the result and still predicted.
func (d *Detector) Detect(ctx context.Context, req PredictionRequest) (*Detection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	advisory := CheckRange(d.bounds, req)
	class, confidence, err := d.pipeline.PredictProba(req.Voltage, req.Height, req.Soil)
	if err != nil {
		return nil, err
	}
	name, err := MineTypeName(class)
	if err != nil {
		return nil, err
	}

	detection := Detection{
		ID:         d.newID(),
		Request:    req,
		Class:      class,
		Name:       name,
		Confidence: confidence,
		Advisory:   advisory,
		Timestamp:  d.now(),
	}

	fields := []zap.Field{
		zap.String("id", detection.ID),
		zap.Float64("voltage", req.Voltage),
		zap.Float64("height", req.Height),
		zap.Float64("soil", req.Soil),
		zap.Int("class", class),
		zap.String("name", name),
		zap.Float64("confidence", confidence),
	}
	if advisory.OutOfRange {
		d.logger.Warn("input out of training range", append(fields, zap.Strings("fields", advisory.Fields))...)
	} else {
		d.logger.Debug("detection", fields...)
	}

	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, detection); err != nil {
			d.logger.Warn("publish detection failed", zap.String("id", detection.ID), zap.Error(err))
		}
	}
	return &detection, nil
}

func (d *Detector) Bounds() Bounds {
	return Bounds{
		Voltage:    d.bounds.Voltage,
		Height:     d.bounds.Height,
		SoilValues: append([]float64(nil), d.bounds.SoilValues...),
	}
}

func (d *Detector) Dataset() *pipeline.Dataset {
	return d.dataset
}

// DefaultRequest is the midpoint of both continuous ranges with the first
// observed soil code.
func (d *Detector) DefaultRequest() PredictionRequest {
	req := PredictionRequest{
		Voltage: d.bounds.Voltage.Midpoint(),
		Height:  d.bounds.Height.Midpoint(),
	}
	if len(d.bounds.SoilValues) > 0 {
		req.Soil = d.bounds.SoilValues[0]
	}
	return req
}

type FeatureRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

type SoilOption struct {
	Code float64 `json:"code"`
	Name string  `json:"name,omitempty"`
}

// Parameters describes the accepted inputs and the output classes.
type Parameters struct {
	Voltage     FeatureRange `json:"voltage"`
	Height      FeatureRange `json:"height"`
	SoilOptions []SoilOption `json:"soil_options"`
	MineClasses []MineClass  `json:"mine_classes"`
	Samples     int          `json:"samples"`
}

func (d *Detector) Parameters() Parameters {
	soils := make([]SoilOption, 0, len(d.bounds.SoilValues))
	for _, code := range d.bounds.SoilValues {
		name, _ := SoilTypeName(code)
		soils = append(soils, SoilOption{Code: code, Name: name})
	}
	return Parameters{
		Voltage: FeatureRange{
			Min:     d.bounds.Voltage.Min,
			Max:     d.bounds.Voltage.Max,
			Default: d.bounds.Voltage.Midpoint(),
		},
		Height: FeatureRange{
			Min:     d.bounds.Height.Min,
			Max:     d.bounds.Height.Max,
			Default: d.bounds.Height.Midpoint(),
		},
		SoilOptions: soils,
		MineClasses: MineClasses(),
		Samples:     len(d.dataset.Records),
	}
}

// ClassSummary is one bar of the training class distribution.
type ClassSummary struct {
	Class int    `json:"class"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (d *Detector) Distribution() []ClassSummary {
	counts := d.dataset.ClassDistribution()
	summary := make([]ClassSummary, 0, len(counts))
	for _, c := range counts {
		name, _ := MineTypeName(c.Class)
		summary = append(summary, ClassSummary{Class: c.Class, Name: name, Count: c.Count})
	}
	return summary
}
