package faces

import (
	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// Parser segments an aligned face crop into coarse regions. The shipped
// parser model carries the band boundaries as fractions of the crop height;
// without a model sensible anatomical defaults apply.
type Parser struct {
	hairEnd     float64
	foreheadEnd float64
	eyesEnd     float64
	noseEnd     float64
	mouthEnd    float64
}

func NewParser(model *registry.LoadedModel) *Parser {
	p := &Parser{hairEnd: 0.18, foreheadEnd: 0.35, eyesEnd: 0.50, noseEnd: 0.62, mouthEnd: 0.78}
	if model != nil && len(model.Weights) >= 5 {
		w := model.Weights
		if w[0] > 0 && w[1] > w[0] && w[2] > w[1] && w[3] > w[2] && w[4] > w[3] && w[4] < 1 {
			p.hairEnd = float64(w[0])
			p.foreheadEnd = float64(w[1])
			p.eyesEnd = float64(w[2])
			p.noseEnd = float64(w[3])
			p.mouthEnd = float64(w[4])
		}
	}
	return p
}

// ParseFace returns one region code per crop pixel, row-major.
func (p *Parser) ParseFace(crop *frame.Buffer) []uint8 {
	mask := make([]uint8, crop.Width*crop.Height)
	for y := 0; y < crop.Height; y++ {
		frac := float64(y) / float64(crop.Height)
		var region uint8
		switch {
		case frac < p.hairEnd:
			region = RegionHair
		case frac < p.foreheadEnd:
			region = RegionForehead
		case frac < p.eyesEnd:
			region = RegionEyeLeft // split per column below
		case frac < p.noseEnd:
			region = RegionSkin
		case frac < p.mouthEnd:
			region = RegionMouth
		default:
			region = RegionJaw
		}
		for x := 0; x < crop.Width; x++ {
			r := region
			if r == RegionEyeLeft && x >= crop.Width/2 {
				r = RegionEyeRight
			}
			mask[y*crop.Width+x] = r
		}
	}
	return mask
}
