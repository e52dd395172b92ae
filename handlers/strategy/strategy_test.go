package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

func testConfigs(t *testing.T) *configs.AppConfigs {
	t.Helper()
	appConfigs, err := configs.Load("")
	require.NoError(t, err)
	return appConfigs
}

// skinCrop builds a uniform skin-tone crop with mild texture.
func skinCrop(width, height int) *frame.Buffer {
	buf := frame.NewBuffer(width, height)
	for p := 0; p < width*height; p++ {
		i := p * frame.Channels
		buf.Pix[i] = uint8(190 + p%16)
		buf.Pix[i+1] = 120
		buf.Pix[i+2] = 90
	}
	return buf
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := testConfigs(t)
	feedforward := NewFeedforward(nil)
	diffusion := NewDiffusion(nil, cfg)
	return &Runner{
		cfg:           cfg,
		maxResolution: 1024,
		feedforward:   feedforward,
		diffusion:     diffusion,
		hybrid:        NewHybrid(feedforward, diffusion, cfg),
	}
}

func TestFeedforwardIsDeterministic(t *testing.T) {
	runner := testRunner(t)
	controls := models.AgeControls{TargetAge: 70, IdentityLockStrength: 0.3, TextureKeep: 0.6, SkinClean: 0.4}

	req := &Request{Crop: skinCrop(16, 16), Controls: controls}
	first, info, err := runner.Run(context.Background(), models.ModeFeedforward, req)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Steps)
	assert.False(t, info.Degraded)

	second, _, err := runner.Run(context.Background(), models.ModeFeedforward, req)
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestFeedforwardPreservesDimensions(t *testing.T) {
	runner := testRunner(t)
	req := &Request{Crop: skinCrop(13, 21), Controls: models.AgeControls{TargetAge: 80}}
	out, _, err := runner.Run(context.Background(), models.ModeFeedforward, req)
	require.NoError(t, err)
	assert.Equal(t, 13, out.Width)
	assert.Equal(t, 21, out.Height)
}

func TestTargetAgeChangesOutput(t *testing.T) {
	runner := testRunner(t)
	crop := skinCrop(16, 16)

	young, _, err := runner.Run(context.Background(), models.ModeFeedforward,
		&Request{Crop: crop, Controls: models.AgeControls{TargetAge: 0, IdentityLockStrength: 0.2}})
	require.NoError(t, err)
	old, _, err := runner.Run(context.Background(), models.ModeFeedforward,
		&Request{Crop: crop, Controls: models.AgeControls{TargetAge: 80, IdentityLockStrength: 0.2}})
	require.NoError(t, err)

	var totalDiff float64
	for i := range young.Pix {
		d := float64(young.Pix[i]) - float64(old.Pix[i])
		if d < 0 {
			d = -d
		}
		totalDiff += d
	}
	meanDiff := totalDiff / float64(len(young.Pix))
	assert.Greater(t, meanDiff, 2.0, "age 0 and age 80 must produce measurably different pixels")
}

func TestControlsAreClampedNotRejected(t *testing.T) {
	runner := testRunner(t)
	req := &Request{Crop: skinCrop(8, 8), Controls: models.AgeControls{TargetAge: 900, IdentityLockStrength: -3}}
	_, _, err := runner.Run(context.Background(), models.ModeFeedforward, req)
	require.NoError(t, err)
}

func TestDiffusionCompletesAllSteps(t *testing.T) {
	runner := testRunner(t)
	req := &Request{Crop: skinCrop(8, 8), Controls: models.AgeControls{TargetAge: 60}, Seed: 7}

	out, info, err := runner.Run(context.Background(), models.ModeDiffusion, req)
	require.NoError(t, err)
	assert.Equal(t, runner.cfg.Configs.DiffusionSteps, info.Steps)
	assert.False(t, info.Degraded)
	assert.Equal(t, 8, out.Width)
}

func TestDiffusionIsSeededDeterministic(t *testing.T) {
	runner := testRunner(t)
	req := &Request{Crop: skinCrop(8, 8), Controls: models.AgeControls{TargetAge: 60}, Seed: 42}

	first, _, err := runner.Run(context.Background(), models.ModeDiffusion, req)
	require.NoError(t, err)
	second, _, err := runner.Run(context.Background(), models.ModeDiffusion, req)
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestDiffusionTinyDeadlineDegradesButSucceeds(t *testing.T) {
	runner := testRunner(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel()

	req := &Request{Crop: skinCrop(8, 8), Controls: models.AgeControls{TargetAge: 60}, Seed: 7}
	out, info, err := runner.Run(ctx, models.ModeDiffusion, req)
	require.NoError(t, err, "an exhausted budget degrades, it does not fail")
	assert.True(t, info.Degraded)
	assert.Less(t, info.Steps, runner.cfg.Configs.DiffusionSteps)
	require.NotNil(t, out)
	assert.Equal(t, 8, out.Width)
}

func TestHybridRefinesIdentityRegions(t *testing.T) {
	runner := testRunner(t)
	crop := skinCrop(16, 16)
	mask := make([]uint8, 16*16)
	// rows 8..11 are "mouth"
	for y := 8; y < 12; y++ {
		for x := 0; x < 16; x++ {
			mask[y*16+x] = 5
		}
	}

	out, info, err := runner.Run(context.Background(), models.ModeHybrid,
		&Request{Crop: crop, Controls: models.AgeControls{TargetAge: 75, IdentityLockStrength: 0.4}, Mask: mask, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, runner.cfg.Configs.HybridRefineSteps, info.Steps)
	assert.Equal(t, 16, out.Width)
}

func TestDiffusionUnavailableYieldsInferenceError(t *testing.T) {
	runner := testRunner(t)
	runner.diffusion = nil
	runner.hybrid = nil

	_, _, err := runner.Run(context.Background(), models.ModeDiffusion, &Request{Crop: skinCrop(4, 4)})
	require.Error(t, err)
}

func TestResolveAutoMode(t *testing.T) {
	runner := testRunner(t)
	small := skinCrop(8, 8)

	// explicit modes pass through
	assert.Equal(t, models.ModeDiffusion, runner.Resolve(models.ModeDiffusion, small, 0))

	// slow stream, small frame: quality path
	assert.Equal(t, models.ModeHybrid, runner.Resolve(models.ModeAuto, small, 5))

	// fast stream: latency path
	assert.Equal(t, models.ModeFeedforward, runner.Resolve(models.ModeAuto, small, 60))

	// oversized frame: latency path
	big := frame.NewBuffer(2048, 8)
	assert.Equal(t, models.ModeFeedforward, runner.Resolve(models.ModeAuto, big, 5))

	// no diffusion editor loaded: feedforward is all there is
	runner.hybrid = nil
	assert.Equal(t, models.ModeFeedforward, runner.Resolve(models.ModeAuto, small, 5))
}
