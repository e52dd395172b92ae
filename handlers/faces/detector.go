package faces

import (
	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// Detector finds face regions in a full frame. The shipped detector model
// parameterizes a skin-chromaticity classifier; the bounding box of the
// largest skin mass becomes the face box.
type Detector struct {
	minAreaFrac float64 // minimum skin fraction of the frame to call it a face
	boxPadFrac  float64 // padding added around the raw skin bounding box
}

func NewDetector(model *registry.LoadedModel) *Detector {
	d := &Detector{minAreaFrac: 0.002, boxPadFrac: 0.1}
	if model != nil && len(model.Weights) >= 2 {
		if model.Weights[0] > 0 {
			d.minAreaFrac = float64(model.Weights[0])
		}
		if model.Weights[1] >= 0 {
			d.boxPadFrac = float64(model.Weights[1])
		}
	}
	return d
}

// DetectFaces returns detected faces with crops extracted. A frame with no
// skin mass above the area threshold yields an empty slice, never an error.
func (d *Detector) DetectFaces(buf *frame.Buffer) []Face {
	if buf == nil || buf.Validate() != nil {
		return nil
	}

	minX, minY := buf.Width, buf.Height
	maxX, maxY := -1, -1
	skinCount := 0
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			if isSkin(buf, x, y) {
				skinCount++
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < 0 || float64(skinCount) < d.minAreaFrac*float64(buf.Width*buf.Height) {
		return nil
	}

	box := Rect{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
	box = pad(box, d.boxPadFrac, buf.Width, buf.Height)

	confidence := float64(skinCount) / float64(box.Width*box.Height)
	if confidence > 1 {
		confidence = 1
	}

	return []Face{{
		Box:        box,
		Confidence: confidence,
		FaceID:     0,
		Crop:       Crop(buf, box),
	}}
}

// isSkin applies the classic RGB skin rule: dominant red, sufficient
// green/blue floors, and enough red-to-chroma spread.
func isSkin(buf *frame.Buffer, x, y int) bool {
	o := buf.Offset(x, y)
	r := int(buf.Pix[o])
	g := int(buf.Pix[o+1])
	b := int(buf.Pix[o+2])
	minGB := g
	if b < minGB {
		minGB = b
	}
	return r > 95 && g > 40 && b > 20 && r > g && r > b && r-minGB > 15
}

func pad(box Rect, frac float64, width, height int) Rect {
	padX := int(float64(box.Width) * frac)
	padY := int(float64(box.Height) * frac)
	box.X -= padX
	box.Y -= padY
	box.Width += 2 * padX
	box.Height += 2 * padY
	if box.X < 0 {
		box.Width += box.X
		box.X = 0
	}
	if box.Y < 0 {
		box.Height += box.Y
		box.Y = 0
	}
	if box.X+box.Width > width {
		box.Width = width - box.X
	}
	if box.Y+box.Height > height {
		box.Height = height - box.Y
	}
	return box
}

// Crop copies the boxed region out of the frame. The box is assumed to be
// clamped to the frame bounds already.
func Crop(buf *frame.Buffer, box Rect) *frame.Buffer {
	out := frame.NewBuffer(box.Width, box.Height)
	for y := 0; y < box.Height; y++ {
		srcOff := buf.Offset(box.X, box.Y+y)
		dstOff := out.Offset(0, y)
		copy(out.Pix[dstOff:dstOff+box.Width*frame.Channels], buf.Pix[srcOff:srcOff+box.Width*frame.Channels])
	}
	return out
}
