package models

import (
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// ProcessingMode selects the transformation strategy for a frame. AUTO defers
// the concrete choice to the strategy engine, which records the resolved mode
// in the result metrics.
type ProcessingMode int

const (
	ModeFeedforward ProcessingMode = iota
	ModeDiffusion
	ModeHybrid
	ModeAuto
)

func (m ProcessingMode) String() string {
	switch m {
	case ModeFeedforward:
		return "feedforward"
	case ModeDiffusion:
		return "diffusion"
	case ModeHybrid:
		return "hybrid"
	case ModeAuto:
		return "auto"
	}
	return "unknown"
}

// AgeControls carries the per-frame transformation knobs. It is a value
// object, copied per frame; out-of-range inputs are clamped into the declared
// range rather than rejected.
type AgeControls struct {
	TargetAge            float64 // [0, 100]
	IdentityLockStrength float64 // [0, 1]
	TemporalStability    float64 // [0, 1]
	TextureKeep          float64 // [0, 1]
	SkinClean            float64 // [0, 1]
	EnableHairAging      bool
	GrayDensity          float64 // [0, 1]
}

// Clamped returns a copy with every field forced into its declared range.
func (c AgeControls) Clamped() AgeControls {
	c.TargetAge = clamp(c.TargetAge, 0, 100)
	c.IdentityLockStrength = clamp(c.IdentityLockStrength, 0, 1)
	c.TemporalStability = clamp(c.TemporalStability, 0, 1)
	c.TextureKeep = clamp(c.TextureKeep, 0, 1)
	c.SkinClean = clamp(c.SkinClean, 0, 1)
	c.GrayDensity = clamp(c.GrayDensity, 0, 1)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FrameContext is the unit of work handed to the orchestrator. The input
// frame is exclusively owned by the caller until the call returns; the engine
// never retains it.
type FrameContext struct {
	FrameNumber int
	InputFrame  *frame.Buffer
	Controls    AgeControls
	Mode        ProcessingMode
}

// ProcessingResult reports one frame's outcome. OutputFrame is present iff
// Success is true and always matches the input frame's dimensions.
type ProcessingResult struct {
	Success      bool
	OutputFrame  *frame.Buffer
	ErrorMessage string
	Metrics      map[string]float64
}

// Metric keys reported per frame.
const (
	MetricProcessingTimeMs  = "processing_time_ms"
	MetricDetectTimeMs      = "detect_time_ms"
	MetricInferenceTimeMs   = "inference_time_ms"
	MetricStabilizeTimeMs   = "stabilize_time_ms"
	MetricFacesProcessed    = "faces_processed"
	MetricBackend           = "backend"
	MetricModeApplied       = "mode_applied"
	MetricDiffusionSteps    = "diffusion_steps"
	MetricDiffusionDegraded = "diffusion_degraded"
	MetricStabilizerResets  = "stabilizer_resets"
)
