package strategy

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// noiseAmplitude scales the per-step perturbation in [-1,1] plane units.
const noiseAmplitude = 0.02

// Diffusion iteratively refines the crop toward the guidance target over N
// denoising steps. Highest quality, highest latency. The loop watches the
// context and the configured step budget: running out of either stops the
// loop early and returns the best-effort intermediate, flagged degraded.
type Diffusion struct {
	guide *Feedforward
	cfg   *configs.AppConfigs
}

func NewDiffusion(model *registry.LoadedModel, appConfigs *configs.AppConfigs) *Diffusion {
	return &Diffusion{guide: NewFeedforward(model), cfg: appConfigs}
}

func (d *Diffusion) Name() string { return "diffusion" }

func (d *Diffusion) Run(ctx context.Context, req *Request) (*frame.Buffer, *RunInfo, error) {
	steps := d.cfg.Configs.DiffusionSteps
	if steps < 1 {
		steps = 1
	}
	target, err := d.guide.generate(req.Crop, req.Controls, req.Mask)
	if err != nil {
		return nil, nil, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if stepBudget := d.cfg.Configs.DiffusionStepTimeoutMs; !hasDeadline && stepBudget > 0 {
		deadline = time.Now().Add(time.Duration(steps*stepBudget) * time.Millisecond)
		hasDeadline = true
	}

	plane := req.Crop.ToFloat32()
	info := &RunInfo{}
	completed, err := denoise(ctx, plane, target, steps, d.cfg.Configs.DiffusionGuidanceScale, req.Seed, deadline, hasDeadline)
	if err != nil {
		return nil, nil, err
	}
	info.Steps = completed
	info.Degraded = completed < steps

	out := frame.NewBuffer(req.Crop.Width, req.Crop.Height)
	out.FromFloat32(plane)
	return out, info, nil
}

// denoise runs up to steps guided update iterations in place and returns how
// many completed. Noise is seeded, so a full run is reproducible; an
// interrupted run simply leaves the plane partway toward the target.
func denoise(ctx context.Context, plane, target []float32, steps int, guidanceScale float64, seed int64, deadline time.Time, hasDeadline bool) (int, error) {
	rng := rand.New(rand.NewSource(seed))
	stepGain := float32(guidanceScale) / float32(steps)
	if stepGain > 1 {
		stepGain = 1
	}

	completed := 0
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return completed, nil
		default:
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return completed, nil
		}

		sigma := noiseAmplitude * (1 - float32(i+1)/float32(steps))
		for j := range plane {
			plane[j] += stepGain*(target[j]-plane[j]) + sigma*(rng.Float32()*2-1)
		}
		completed++
	}

	for _, v := range plane {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return completed, &errors.InferenceError{ErrorMsg: "diffusion loop diverged", Cause: errors.CauseNumericDiverge}
		}
	}
	return completed, nil
}
