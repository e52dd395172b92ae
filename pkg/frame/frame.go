package frame

import (
	"fmt"

	"github.com/ufra-ai/ufra-core/internal/errors"
)

// Channels per pixel. The core only ever sees decoded RGB; the excluded I/O
// layer owns color-space conversion.
const Channels = 3

// MaxPixels caps a single frame's pixel count. The pipeline stages a frame
// through several float32 planes, so anything past this would exhaust memory
// before inference even starts.
const MaxPixels = 1 << 26

// Buffer is a single decoded RGB image, interleaved row-major, 8 bits per
// channel. It is the unit of work handed through the pipeline. Ownership
// stays with the caller until the buffer is passed into the engine; the
// engine never retains it past the call.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// FromPix wraps an existing interleaved RGB slice without copying.
func FromPix(width, height int, pix []uint8) (*Buffer, error) {
	b := &Buffer{Width: width, Height: height, Pix: pix}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Validate() error {
	if b == nil {
		return &errors.InferenceError{ErrorMsg: "frame buffer is nil", Cause: errors.CauseMalformedInput}
	}
	if b.Width <= 0 || b.Height <= 0 {
		return &errors.InferenceError{
			ErrorMsg: fmt.Sprintf("invalid frame dimensions %dx%d", b.Width, b.Height),
			Cause:    errors.CauseMalformedInput,
		}
	}
	if b.Width*b.Height > MaxPixels {
		return &errors.InferenceError{
			ErrorMsg: fmt.Sprintf("frame %dx%d exceeds %d pixel budget", b.Width, b.Height, MaxPixels),
			Cause:    errors.CauseOOM,
		}
	}
	if len(b.Pix) != b.Width*b.Height*Channels {
		return &errors.InferenceError{
			ErrorMsg: fmt.Sprintf("pixel slice length %d does not match %dx%dx%d", len(b.Pix), b.Height, b.Width, Channels),
			Cause:    errors.CauseMalformedInput,
		}
	}
	return nil
}

func (b *Buffer) Clone() *Buffer {
	out := NewBuffer(b.Width, b.Height)
	copy(out.Pix, b.Pix)
	return out
}

func (b *Buffer) SameSize(other *Buffer) bool {
	return other != nil && b.Width == other.Width && b.Height == other.Height
}

// Offset returns the index of the R channel of pixel (x, y).
func (b *Buffer) Offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// MaxDim is the larger of width and height, the value max_resolution
// constraints are checked against.
func (b *Buffer) MaxDim() int {
	if b.Width > b.Height {
		return b.Width
	}
	return b.Height
}

// ToFloat32 converts the buffer to a float32 plane normalized to [-1, 1],
// the conditioning range the generator models consume.
func (b *Buffer) ToFloat32() []float32 {
	out := make([]float32, len(b.Pix))
	for i, p := range b.Pix {
		out[i] = float32(p)*(2.0/255.0) - 1.0
	}
	return out
}

// FromFloat32 writes a [-1, 1] plane back into 8-bit pixels, rounding and
// clamping. Round-tripping through ToFloat32 is lossless.
func (b *Buffer) FromFloat32(plane []float32) {
	for i, v := range plane {
		x := (v+1.0)*127.5 + 0.5
		if x < 0 {
			x = 0
		} else if x > 255 {
			x = 255
		}
		b.Pix[i] = uint8(x)
	}
}

// Luma returns per-pixel luminance in [0, 1] (Rec. 601 weights).
func (b *Buffer) Luma() []float32 {
	out := make([]float32, b.Width*b.Height)
	for i := 0; i < len(out); i++ {
		r := float32(b.Pix[i*Channels])
		g := float32(b.Pix[i*Channels+1])
		bl := float32(b.Pix[i*Channels+2])
		out[i] = (0.299*r + 0.587*g + 0.114*bl) / 255.0
	}
	return out
}
