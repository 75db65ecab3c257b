package mine

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"minedetect/pipeline"
)

var ErrInvalidRequest = errors.New("invalid prediction request")

// PredictionRequest is one set of sensor readings submitted for detection.
type PredictionRequest struct {
	Voltage float64 `json:"voltage"`
	Height  float64 `json:"height"`
	Soil    float64 `json:"soil"`
}

func (r PredictionRequest) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{{"voltage", r.Voltage}, {"height", r.Height}, {"soil", r.Soil}}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidRequest, f.name)
		}
	}
	return nil
}

// Bounds are the feature ranges observed in the cleaned training data.
type Bounds struct {
	Voltage    pipeline.Range `json:"voltage"`
	Height     pipeline.Range `json:"height"`
	SoilValues []float64      `json:"soil_values"`
}

func BoundsOf(dataset *pipeline.Dataset) Bounds {
	return Bounds{
		Voltage:    dataset.Voltage,
		Height:     dataset.Height,
		SoilValues: append([]float64(nil), dataset.SoilValues...),
	}
}

func (b Bounds) HasSoil(code float64) bool {
	for _, s := range b.SoilValues {
		if s == code {
			return true
		}
	}
	return false
}

const advisoryMessage = "Some input values are out of training range; prediction may be less reliable."

// Advisory flags inputs outside the training bounds. It never blocks a prediction.
type Advisory struct {
	OutOfRange bool     `json:"out_of_range"`
	Fields     []string `json:"fields,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func CheckRange(bounds Bounds, req PredictionRequest) Advisory {
	var fields []string
	if !bounds.Voltage.Contains(req.Voltage) {
		fields = append(fields, "voltage")
	}
	if !bounds.Height.Contains(req.Height) {
		fields = append(fields, "height")
	}
	if !bounds.HasSoil(req.Soil) {
		fields = append(fields, "soil")
	}
	if len(fields) == 0 {
		return Advisory{}
	}
	return Advisory{
		OutOfRange: true,
		Fields:     fields,
		Message:    advisoryMessage + " (" + strings.Join(fields, ", ") + ")",
	}
}
