package faces

import (
	"github.com/ufra-ai/ufra-core/pkg/frame"
)

// Rect is a pixel-space bounding box inside a frame.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Face is one detected face: its box in the source frame and the crop the
// generator strategies operate on.
type Face struct {
	Box        Rect
	Confidence float64
	FaceID     int
	Crop       *frame.Buffer
}

// Region codes produced by the face parser, one byte per crop pixel.
const (
	RegionSkin uint8 = iota
	RegionHair
	RegionForehead
	RegionEyeLeft
	RegionEyeRight
	RegionMouth
	RegionJaw
)

// IdentityCritical reports whether a region is identity-sensitive. These
// regions get the strongest original-pixel preservation, and are the only
// regions the hybrid strategy refines with diffusion.
func IdentityCritical(region uint8) bool {
	return region == RegionEyeLeft || region == RegionEyeRight || region == RegionMouth
}
