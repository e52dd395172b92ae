package strategy

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ufra-ai/ufra-core/handlers/faces"
	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// Hybrid runs the feedforward pass for the whole crop, then spends a small
// diffusion budget refining only the identity-critical regions. Cost stays
// bounded by the region area while fidelity improves where it matters.
type Hybrid struct {
	feedforward *Feedforward
	diffusion   *Diffusion
	cfg         *configs.AppConfigs
}

func NewHybrid(feedforward *Feedforward, diffusion *Diffusion, appConfigs *configs.AppConfigs) *Hybrid {
	return &Hybrid{feedforward: feedforward, diffusion: diffusion, cfg: appConfigs}
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Run(ctx context.Context, req *Request) (*frame.Buffer, *RunInfo, error) {
	coarse, err := h.feedforward.generate(req.Crop, req.Controls, req.Mask)
	if err != nil {
		return nil, nil, err
	}

	steps := h.cfg.Configs.HybridRefineSteps
	if steps < 1 {
		steps = 1
	}

	// refinement target: in identity-critical regions the diffusion editor's
	// conditioning replaces the coarse estimate, weighted by identity lock
	refined, err := h.diffusion.guide.generate(req.Crop, req.Controls, req.Mask)
	if err != nil {
		return nil, nil, err
	}

	critical := criticalIndices(req.Mask, req.Crop.Width*req.Crop.Height)
	completed := refineRegions(ctx, coarse, refined, critical, steps, req.Seed)

	for _, v := range coarse {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, nil, &errors.InferenceError{ErrorMsg: "hybrid refinement diverged", Cause: errors.CauseNumericDiverge}
		}
	}

	out := frame.NewBuffer(req.Crop.Width, req.Crop.Height)
	out.FromFloat32(coarse)
	return out, &RunInfo{Steps: completed, Degraded: completed < steps}, nil
}

// refineRegions iterates the critical pixels toward the refinement target
// with a decaying seeded perturbation, honoring context cancellation.
func refineRegions(ctx context.Context, plane, target []float32, critical []int, steps int, seed int64) int {
	rng := rand.New(rand.NewSource(seed))
	deadline, hasDeadline := ctx.Deadline()

	completed := 0
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return completed
		default:
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return completed
		}

		gain := 1.0 / float32(steps-i)
		sigma := noiseAmplitude * (1 - float32(i+1)/float32(steps))
		for _, p := range critical {
			for c := 0; c < frame.Channels; c++ {
				j := p*frame.Channels + c
				plane[j] += gain*(target[j]-plane[j]) + sigma*(rng.Float32()*2-1)
			}
		}
		completed++
	}
	return completed
}

func criticalIndices(mask []uint8, pixels int) []int {
	if mask == nil {
		return nil
	}
	out := make([]int, 0, pixels/8)
	for p := 0; p < pixels; p++ {
		if faces.IdentityCritical(mask[p]) {
			out = append(out, p)
		}
	}
	return out
}
