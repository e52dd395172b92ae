package stabilizer

import (
	"fmt"

	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
	"github.com/ufra-ai/ufra-core/pkg/logger"
	"github.com/ufra-ai/ufra-core/pkg/metrics"
)

// embeddingGrid is the side of the luma grid used as the identity embedding
// (embeddingGrid^2 dimensions).
const embeddingGrid = 8

// ewmaBeta weights a new frame's embedding into the moving identity
// estimate.
const ewmaBeta = 0.3

// State is one session's cross-frame memory: the moving identity embedding,
// a rolling window of recent raw embeddings, and the smoothed output plane
// the next frame blends against. Exactly one in-flight frame may touch a
// State at a time; the session owning it serializes access.
type State struct {
	seeded    bool
	width     int
	height    int
	embedding []float32
	window    [][]float32
	history   []float32

	frames int
	resets int
}

func NewState() *State {
	return &State{}
}

// ResetCount reports how many identity discontinuities forced a reseed.
func (s *State) ResetCount() int { return s.resets }

// FrameCount reports how many frames have passed through this state.
func (s *State) FrameCount() int { return s.frames }

// Stabilizer blends each frame's raw inference output against the session's
// accumulated history, weighted by the temporal_stability control.
type Stabilizer struct {
	cfg *configs.AppConfigs
}

func New(appConfigs *configs.AppConfigs) *Stabilizer {
	return &Stabilizer{cfg: appConfigs}
}

// Stabilize returns the temporally smoothed frame and updates state. The
// first frame of a session seeds the state and passes through untouched.
// An embedding far from both the moving estimate and every raw embedding in
// the rolling window means a scene cut or a new subject: the state resets
// instead of blending across unrelated faces.
func (s *Stabilizer) Stabilize(current *frame.Buffer, controls models.AgeControls, state *State) *frame.Buffer {
	embedding := Embed(current)
	state.frames++

	if !state.seeded || state.width != current.Width || state.height != current.Height {
		if state.seeded {
			// dimension change mid-session is a discontinuity too
			state.resets++
			metrics.Count("ufra.stabilizer.reset.total", 1, []string{"cause", "dimension-change"})
		}
		s.seed(state, current, embedding)
		return current.Clone()
	}

	threshold := s.cfg.Configs.StabilizerResetThreshold
	dist := Distance(embedding, state.embedding)
	if dist > threshold && minWindowDistance(state, embedding) > threshold {
		state.resets++
		metrics.Count("ufra.stabilizer.reset.total", 1, []string{"cause", "identity-jump"})
		logger.PercentError(fmt.Sprintf("Identity discontinuity (distance %.3f), resetting session state", dist),
			nil, s.cfg.Configs.ErrorLoggingPercent)
		s.seed(state, current, embedding)
		return current.Clone()
	}

	ts := float32(controls.Clamped().TemporalStability)
	plane := current.ToFloat32()
	for i := range plane {
		plane[i] = ts*state.history[i] + (1-ts)*plane[i]
	}

	out := frame.NewBuffer(current.Width, current.Height)
	out.FromFloat32(plane)

	state.history = plane
	for i := range state.embedding {
		state.embedding[i] = (1-ewmaBeta)*state.embedding[i] + ewmaBeta*embedding[i]
	}
	s.pushWindow(state, embedding)
	return out
}

func (s *Stabilizer) seed(state *State, current *frame.Buffer, embedding []float32) {
	state.seeded = true
	state.width = current.Width
	state.height = current.Height
	state.embedding = embedding
	state.history = current.ToFloat32()
	state.window = state.window[:0]
	s.pushWindow(state, embedding)
}

// minWindowDistance is the distance from the embedding to the nearest raw
// embedding in the rolling window. The EWMA estimate lags a fast pan or
// lighting ramp; the raw window keeps that gradual drift from reading as a
// cut, so only a frame far from every recent embedding resets the state.
func minWindowDistance(state *State, embedding []float32) float64 {
	nearest := 1.0
	for _, w := range state.window {
		if d := Distance(embedding, w); d < nearest {
			nearest = d
		}
	}
	return nearest
}

func (s *Stabilizer) pushWindow(state *State, embedding []float32) {
	limit := s.cfg.Configs.StabilizerEmbeddingWindow
	if limit < 1 {
		limit = 1
	}
	state.window = append(state.window, embedding)
	if len(state.window) > limit {
		state.window = state.window[len(state.window)-limit:]
	}
}

// Embed reduces a frame to a coarse luminance grid. Cheap, deterministic,
// and stable under the small per-frame changes the pipeline introduces.
func Embed(buf *frame.Buffer) []float32 {
	out := make([]float32, embeddingGrid*embeddingGrid)
	counts := make([]int, len(out))
	luma := buf.Luma()
	for y := 0; y < buf.Height; y++ {
		gy := y * embeddingGrid / buf.Height
		for x := 0; x < buf.Width; x++ {
			gx := x * embeddingGrid / buf.Width
			cell := gy*embeddingGrid + gx
			out[cell] += luma[y*buf.Width+x]
			counts[cell]++
		}
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= float32(counts[i])
		}
	}
	return out
}

// Distance is the mean absolute difference between two embeddings, in
// [0, 1].
func Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(a))
}
