package faces

import (
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// featherFrac is the fraction of the box dimension over which the composite
// fades from processed to original near the box edge, hiding the seam.
const featherFrac = 0.08

// CompositeFace blends a processed crop back into the destination frame at
// the face box, feathering the edges. The crop must match the box dimensions.
func CompositeFace(dst *frame.Buffer, processed *frame.Buffer, face Face) {
	box := face.Box
	if processed == nil || processed.Width != box.Width || processed.Height != box.Height {
		return
	}
	featherX := int(float64(box.Width) * featherFrac)
	featherY := int(float64(box.Height) * featherFrac)
	if featherX < 1 {
		featherX = 1
	}
	if featherY < 1 {
		featherY = 1
	}

	for y := 0; y < box.Height; y++ {
		for x := 0; x < box.Width; x++ {
			alpha := edgeAlpha(x, box.Width, featherX) * edgeAlpha(y, box.Height, featherY)
			srcOff := processed.Offset(x, y)
			dstOff := dst.Offset(box.X+x, box.Y+y)
			for c := 0; c < frame.Channels; c++ {
				orig := float64(dst.Pix[dstOff+c])
				proc := float64(processed.Pix[srcOff+c])
				dst.Pix[dstOff+c] = uint8(orig*(1-alpha) + proc*alpha + 0.5)
			}
		}
	}
}

// edgeAlpha ramps 0→1 over the feather margin from either edge.
func edgeAlpha(pos, size, feather int) float64 {
	d := pos
	if size-1-pos < d {
		d = size - 1 - pos
	}
	if d >= feather {
		return 1
	}
	return float64(d) / float64(feather)
}
