package stabilizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

func testStabilizer(t *testing.T) *Stabilizer {
	t.Helper()
	appConfigs, err := configs.Load("")
	require.NoError(t, err)
	return New(appConfigs)
}

func uniformFrame(width, height int, r, g, b uint8) *frame.Buffer {
	buf := frame.NewBuffer(width, height)
	for p := 0; p < width*height; p++ {
		i := p * frame.Channels
		buf.Pix[i] = r
		buf.Pix[i+1] = g
		buf.Pix[i+2] = b
	}
	return buf
}

func TestFirstFrameSeedsAndPassesThrough(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	in := uniformFrame(8, 8, 120, 90, 70)

	out := stab.Stabilize(in, models.AgeControls{TemporalStability: 0.9}, state)
	assert.Equal(t, in.Pix, out.Pix)
	assert.Equal(t, 0, state.ResetCount())
	assert.Equal(t, 1, state.FrameCount())

	// the output must not alias the input
	out.Pix[0] = 0
	assert.Equal(t, uint8(120), in.Pix[0])
}

func TestFullStabilityFreezesOutput(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 1.0}

	in := uniformFrame(8, 8, 140, 100, 80)
	first := stab.Stabilize(in, controls, state)
	second := stab.Stabilize(in.Clone(), controls, state)

	assert.Equal(t, first.Pix, second.Pix, "temporal_stability=1.0 with identical inputs must freeze the output")
	assert.Equal(t, 0, state.ResetCount())
}

func TestZeroStabilityPassesCurrentThrough(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 0.0}

	stab.Stabilize(uniformFrame(8, 8, 100, 100, 100), controls, state)
	next := uniformFrame(8, 8, 110, 105, 95)
	out := stab.Stabilize(next, controls, state)
	assert.Equal(t, next.Pix, out.Pix)
}

func TestPartialStabilityBlends(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 0.5}

	stab.Stabilize(uniformFrame(4, 4, 100, 100, 100), controls, state)
	out := stab.Stabilize(uniformFrame(4, 4, 120, 120, 120), controls, state)

	// halfway between 100 and 120
	assert.InDelta(t, 110, float64(out.Pix[0]), 1)
}

func TestIdentityDiscontinuityResetsState(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 1.0}

	stab.Stabilize(uniformFrame(8, 8, 20, 20, 20), controls, state)

	jump := uniformFrame(8, 8, 240, 240, 240)
	out := stab.Stabilize(jump, controls, state)

	assert.Equal(t, 1, state.ResetCount(), "a drastic identity jump must reset, not blend")
	assert.Equal(t, jump.Pix, out.Pix, "post-reset output is the new subject, not a blend artifact")
}

func TestGradualLightingRampDoesNotReset(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 0.9}

	// a steady brightening: each step is well under the reset threshold, but
	// the lagging moving estimate ends up far from the last frame
	for _, gray := range []uint8{13, 62, 110, 158} {
		stab.Stabilize(uniformFrame(8, 8, gray, gray, gray), controls, state)
	}

	assert.Equal(t, 0, state.ResetCount(), "drift near recent raw embeddings is not a cut")
	assert.Equal(t, 4, state.FrameCount())
}

func TestDimensionChangeResets(t *testing.T) {
	stab := testStabilizer(t)
	state := NewState()
	controls := models.AgeControls{TemporalStability: 1.0}

	stab.Stabilize(uniformFrame(8, 8, 90, 90, 90), controls, state)
	out := stab.Stabilize(uniformFrame(16, 16, 90, 90, 90), controls, state)

	assert.Equal(t, 1, state.ResetCount())
	assert.Equal(t, 16, out.Width)
}

func TestEmbeddingDistance(t *testing.T) {
	dark := Embed(uniformFrame(8, 8, 10, 10, 10))
	light := Embed(uniformFrame(8, 8, 250, 250, 250))

	assert.InDelta(t, 0, Distance(dark, dark), 1e-6)
	assert.Greater(t, Distance(dark, light), 0.8)
}
