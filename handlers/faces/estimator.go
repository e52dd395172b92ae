package faces

import (
	"math"

	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// Estimator predicts the apparent age of a face crop. The regression weights
// map mean luminance and local contrast into years; output is clamped to
// [0, 100] like the rest of the age scale.
type Estimator struct {
	bias           float64
	lumaWeight     float64
	contrastWeight float64
}

func NewEstimator(model *registry.LoadedModel) *Estimator {
	e := &Estimator{bias: 12.0, lumaWeight: 20.0, contrastWeight: 160.0}
	if model != nil && len(model.Weights) >= 3 {
		e.bias = float64(model.Weights[0])
		e.lumaWeight = float64(model.Weights[1])
		e.contrastWeight = float64(model.Weights[2])
	}
	return e
}

func (e *Estimator) EstimateAge(crop *frame.Buffer) float64 {
	if crop == nil || crop.Validate() != nil {
		return 0
	}
	luma := crop.Luma()
	var mean float64
	for _, v := range luma {
		mean += float64(v)
	}
	mean /= float64(len(luma))

	var variance float64
	for _, v := range luma {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(luma))
	contrast := math.Sqrt(variance)

	age := e.bias + e.lumaWeight*mean + e.contrastWeight*contrast
	if age < 0 {
		return 0
	}
	if age > 100 {
		return 100
	}
	return age
}
