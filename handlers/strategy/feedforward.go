package strategy

import (
	"context"
	"math"

	"github.com/ufra-ai/ufra-core/handlers/faces"
	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// agePivot is the conditioning value the generator treats as "no change":
// targets above it age the face, targets below it de-age.
const agePivot = 0.35

// Identity-critical regions are preserved harder than the caller's global
// lock, mirroring the generator's training-time masking.
const (
	eyeLockFloor   = 0.7
	mouthLockFloor = 0.6
	hairKeepLock   = 0.9
)

// agingParams is the generator's conditioning head, decoded from model
// weights once at load.
type agingParams struct {
	condScale    float32
	condBias     float32
	toneGain     float32
	contrastGain float32
}

func paramsFromModel(model *registry.LoadedModel) agingParams {
	p := agingParams{condScale: 1.0, condBias: 0.0, toneGain: 0.6, contrastGain: 0.45}
	if model != nil && len(model.Weights) >= 4 {
		w := model.Weights
		p.condScale = w[0]
		p.condBias = w[1]
		p.toneGain = w[2]
		p.contrastGain = w[3]
	}
	return p
}

// Feedforward is the single-pass regression generator: lowest latency,
// deterministic, the real-time/video path.
type Feedforward struct {
	params agingParams
}

func NewFeedforward(model *registry.LoadedModel) *Feedforward {
	return &Feedforward{params: paramsFromModel(model)}
}

func (f *Feedforward) Name() string { return "feedforward" }

func (f *Feedforward) Run(_ context.Context, req *Request) (*frame.Buffer, *RunInfo, error) {
	plane, err := f.generate(req.Crop, req.Controls, req.Mask)
	if err != nil {
		return nil, nil, err
	}
	out := frame.NewBuffer(req.Crop.Width, req.Crop.Height)
	out.FromFloat32(plane)
	return out, &RunInfo{Steps: 1}, nil
}

// generate runs the full forward pass and returns the finished [-1,1] plane:
// age transformation, texture smoothing, hair graying and identity blending
// all applied. The plane never aliases the input crop.
func (f *Feedforward) generate(crop *frame.Buffer, controls models.AgeControls, mask []uint8) ([]float32, error) {
	controls = controls.Clamped()

	// target_age maps linearly into the conditioning range
	cond := f.params.condScale*float32(controls.TargetAge/100.0) + f.params.condBias
	if cond < 0 {
		cond = 0
	} else if cond > 1 {
		cond = 1
	}
	d := cond - agePivot

	orig := crop.ToFloat32()
	gen := make([]float32, len(orig))
	for i, v := range orig {
		gen[i] = v + d*(f.params.contrastGain*v-f.params.toneGain)
	}

	// skin smoothing: skin_clean pulls toward a local average, texture_keep
	// holds wrinkle detail back
	smooth := float32(controls.SkinClean * (1.0 - 0.5*controls.TextureKeep))
	if smooth > 0 {
		blurred := boxBlur(gen, crop.Width, crop.Height)
		for i := range gen {
			if skinRegion(mask, i) {
				gen[i] = (1-smooth)*gen[i] + smooth*blurred[i]
			}
		}
	}

	if controls.EnableHairAging && d > 0 {
		grayHair(gen, crop, mask, float32(controls.GrayDensity)*d*2)
	}

	applyIdentityLock(gen, orig, mask, controls)

	for _, v := range gen {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, &errors.InferenceError{ErrorMsg: "feedforward pass diverged", Cause: errors.CauseNumericDiverge}
		}
	}
	return gen, nil
}

// applyIdentityLock blends the generated plane back toward the original:
// out = lock*original + (1-lock)*generated, with region-specific floors.
func applyIdentityLock(gen, orig []float32, mask []uint8, controls models.AgeControls) {
	lock := float32(controls.IdentityLockStrength)
	for i := range gen {
		l := lock
		switch region(mask, i) {
		case faces.RegionEyeLeft, faces.RegionEyeRight:
			if l < eyeLockFloor {
				l = eyeLockFloor
			}
		case faces.RegionMouth:
			if l < mouthLockFloor {
				l = mouthLockFloor
			}
		case faces.RegionHair:
			if !controls.EnableHairAging && l < hairKeepLock {
				l = hairKeepLock
			}
		}
		gen[i] = l*orig[i] + (1-l)*gen[i]
	}
}

// grayHair desaturates hair pixels toward their luminance.
func grayHair(gen []float32, crop *frame.Buffer, mask []uint8, amount float32) {
	if amount > 1 {
		amount = 1
	}
	if amount <= 0 {
		return
	}
	n := crop.Width * crop.Height
	for p := 0; p < n; p++ {
		if mask != nil && mask[p] != faces.RegionHair {
			continue
		}
		i := p * frame.Channels
		gray := 0.299*gen[i] + 0.587*gen[i+1] + 0.114*gen[i+2]
		// graying also lightens dark hair
		gray += 0.3 * amount
		for c := 0; c < frame.Channels; c++ {
			gen[i+c] = (1-amount)*gen[i+c] + amount*gray
		}
	}
}

func region(mask []uint8, planeIdx int) uint8 {
	if mask == nil {
		return faces.RegionSkin
	}
	return mask[planeIdx/frame.Channels]
}

func skinRegion(mask []uint8, planeIdx int) bool {
	r := region(mask, planeIdx)
	return r == faces.RegionSkin || r == faces.RegionForehead || r == faces.RegionJaw
}

// boxBlur is a 3x3 channel-wise mean over the interleaved plane.
func boxBlur(plane []float32, width, height int) []float32 {
	out := make([]float32, len(plane))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < frame.Channels; c++ {
				var sum float32
				var count float32
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := x+dx, y+dy
						if nx < 0 || ny < 0 || nx >= width || ny >= height {
							continue
						}
						sum += plane[(ny*width+nx)*frame.Channels+c]
						count++
					}
				}
				out[(y*width+x)*frame.Channels+c] = sum / count
			}
		}
	}
	return out
}
