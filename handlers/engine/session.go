package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/handlers/stabilizer"
	"github.com/ufra-ai/ufra-core/internal/errors"
)

// fpsEwmaAlpha weights the newest inter-frame gap into the session's
// observed frame-rate estimate, which AUTO mode consults.
const fpsEwmaAlpha = 0.3

// Session is one subject's sequential frame stream. It owns the stabilizer
// state for that subject; the internal mutex makes frame processing strictly
// FIFO within the session. Independent sessions may run concurrently.
type Session struct {
	ID string

	engine *Engine

	mu          sync.Mutex
	state       *stabilizer.State
	lastFrame   int
	lastArrival time.Time
	lastSeen    time.Time
	fpsEstimate float64
	closed      bool
}

func newSession(e *Engine) *Session {
	return &Session{
		ID:        uuid.NewString(),
		engine:    e,
		state:     stabilizer.NewState(),
		lastFrame: -1,
		lastSeen:  time.Now(),
	}
}

// ProcessFrame runs one frame through the pipeline. Frame numbers must
// strictly increase within the session. A failed frame reports
// success=false and leaves the session usable for the next frame.
func (s *Session) ProcessFrame(ctx context.Context, fc models.FrameContext) models.ProcessingResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		err := &errors.SessionStateError{ErrorMsg: "session is closed"}
		return failureResult(err.Error())
	}
	if s.lastFrame >= 0 && fc.FrameNumber <= s.lastFrame {
		err := &errors.RequestError{ErrorMsg: fmt.Sprintf("frame number %d does not increase past %d", fc.FrameNumber, s.lastFrame)}
		return failureResult(err.Error())
	}

	s.observeArrival()
	result := s.engine.processFrame(ctx, fc, s.state, s.fpsEstimate)

	// ordering advances even past a failed frame; the caller substitutes the
	// original and moves on
	s.lastFrame = fc.FrameNumber
	s.lastSeen = time.Now()
	return result
}

// ProcessBatch processes the contexts strictly in order. Per-frame failures
// are isolated; every context gets a result.
func (s *Session) ProcessBatch(ctx context.Context, fcs []models.FrameContext) []models.ProcessingResult {
	results := make([]models.ProcessingResult, 0, len(fcs))
	for _, fc := range fcs {
		results = append(results, s.ProcessFrame(ctx, fc))
	}
	return results
}

// StabilizerResets exposes the session's identity-discontinuity counter.
func (s *Session) StabilizerResets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ResetCount()
}

// Close releases the session. Subsequent frames fail; the engine stays
// usable.
func (s *Session) Close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		s.engine.dropSession(s.ID)
	}
}

func (s *Session) observeArrival() {
	now := time.Now()
	if !s.lastArrival.IsZero() {
		if dt := now.Sub(s.lastArrival).Seconds(); dt > 0 {
			inst := 1.0 / dt
			if s.fpsEstimate == 0 {
				s.fpsEstimate = inst
			} else {
				s.fpsEstimate = (1-fpsEwmaAlpha)*s.fpsEstimate + fpsEwmaAlpha*inst
			}
		}
	}
	s.lastArrival = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
