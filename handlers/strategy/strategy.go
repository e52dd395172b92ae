package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
	"github.com/ufra-ai/ufra-core/pkg/metrics"
)

// Request carries one face crop through a strategy run. Seed makes the
// diffusion noise schedule deterministic per frame.
type Request struct {
	Crop     *frame.Buffer
	Controls models.AgeControls
	Mask     []uint8
	Seed     int64
}

// RunInfo reports what a strategy run actually did.
type RunInfo struct {
	Steps    int
	Degraded bool
}

// Strategy is one age-transformation path. Implementations are pure: the
// same request always yields the same output, and the input crop is never
// written to.
type Strategy interface {
	Name() string
	Run(ctx context.Context, req *Request) (*frame.Buffer, *RunInfo, error)
}

// Runner owns the concrete strategies and resolves AUTO mode. One Runner is
// shared by all sessions; strategies hold only immutable model parameters.
type Runner struct {
	cfg           *configs.AppConfigs
	maxResolution int

	feedforward *Feedforward
	diffusion   *Diffusion
	hybrid      *Hybrid
}

func NewRunner(appConfigs *configs.AppConfigs, reg *registry.Registry) (*Runner, error) {
	ffModel, err := reg.ModelByKind(registry.KindFeedforwardGenerator)
	if err != nil {
		return nil, err
	}
	feedforward := NewFeedforward(ffModel)

	runner := &Runner{
		cfg:           appConfigs,
		maxResolution: reg.Config().MaxResolution,
		feedforward:   feedforward,
	}

	// The diffusion editor is the one optional model; without it only the
	// feedforward path is served.
	if diffModel, err := reg.ModelByKind(registry.KindDiffusionEditor); err == nil {
		runner.diffusion = NewDiffusion(diffModel, appConfigs)
		runner.hybrid = NewHybrid(feedforward, runner.diffusion, appConfigs)
	}
	return runner, nil
}

// Resolve maps AUTO onto a concrete mode: feedforward when the stream is
// fast or the frame is large, hybrid otherwise. Thresholds come from
// configuration, not call sites.
func (r *Runner) Resolve(mode models.ProcessingMode, buf *frame.Buffer, observedFps float64) models.ProcessingMode {
	if mode != models.ModeAuto {
		return mode
	}
	if r.hybrid == nil {
		return models.ModeFeedforward
	}
	if observedFps > r.cfg.Configs.AutoModeFpsThreshold {
		return models.ModeFeedforward
	}
	limit := r.cfg.Configs.AutoModeResolutionThreshold
	if r.maxResolution < limit {
		limit = r.maxResolution
	}
	if buf.MaxDim() > limit {
		return models.ModeFeedforward
	}
	return models.ModeHybrid
}

// Run executes the resolved strategy on a face crop.
func (r *Runner) Run(ctx context.Context, mode models.ProcessingMode, req *Request) (*frame.Buffer, *RunInfo, error) {
	strategy, err := r.pick(mode)
	if err != nil {
		return nil, nil, err
	}
	if err := req.Crop.Validate(); err != nil {
		return nil, nil, err
	}

	startTime := time.Now()
	tags := []string{"strategy", strategy.Name()}
	out, info, err := strategy.Run(ctx, req)
	if err != nil {
		metrics.Count("ufra.strategy.run.error", 1, tags)
		return nil, nil, err
	}
	metrics.Timing("ufra.strategy.run.latency", time.Since(startTime), tags)
	if info.Degraded {
		metrics.Count("ufra.strategy.run.degraded", 1, tags)
	}
	return out, info, nil
}

func (r *Runner) pick(mode models.ProcessingMode) (Strategy, error) {
	switch mode {
	case models.ModeFeedforward:
		return r.feedforward, nil
	case models.ModeDiffusion:
		if r.diffusion == nil {
			return nil, &errors.InferenceError{ErrorMsg: "diffusion editor model not loaded", Cause: errors.CauseModelFailure}
		}
		return r.diffusion, nil
	case models.ModeHybrid:
		if r.hybrid == nil {
			return nil, &errors.InferenceError{ErrorMsg: "diffusion editor model not loaded", Cause: errors.CauseModelFailure}
		}
		return r.hybrid, nil
	}
	return nil, &errors.InferenceError{ErrorMsg: fmt.Sprintf("mode %s not runnable", mode), Cause: errors.CauseModelFailure}
}
