package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ufra-ai/ufra-core/handlers/faces"
	"github.com/ufra-ai/ufra-core/handlers/models"
	"github.com/ufra-ai/ufra-core/handlers/registry"
	"github.com/ufra-ai/ufra-core/handlers/stabilizer"
	"github.com/ufra-ai/ufra-core/handlers/strategy"
	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/frame"
	"github.com/ufra-ai/ufra-core/pkg/logger"
	"github.com/ufra-ai/ufra-core/pkg/metrics"
)

const janitorInterval = 30 * time.Second

// Engine is the public entry point: it owns the model registry, the strategy
// runner and zero or more independent sessions. One Engine serves any number
// of concurrent sessions; within a session frames are strictly ordered.
type Engine struct {
	mu sync.RWMutex

	appConfigs *configs.AppConfigs
	registry   *registry.Registry
	runner     *strategy.Runner
	stab       *stabilizer.Stabilizer
	detector   *faces.Detector
	parser     *faces.Parser
	estimator  *faces.Estimator

	mode        models.ProcessingMode
	initialized bool
	ready       bool

	sessions map[string]*Session

	framesTotal  int64
	framesFailed int64
	totalLatency time.Duration

	janitorStop chan struct{}
	janitorOnce sync.Once
	closeOnce   sync.Once
}

func New(appConfigs *configs.AppConfigs) *Engine {
	return &Engine{
		appConfigs:  appConfigs,
		mode:        models.ModeFeedforward,
		sessions:    make(map[string]*Session),
		janitorStop: make(chan struct{}),
	}
}

// Initialize validates the model configuration and binds a backend.
// Re-initialization is rejected while any session is active: sessions hold
// state derived from the loaded models.
func (e *Engine) Initialize(config registry.ModelConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sessions) > 0 {
		return &errors.InitError{ErrorMsg: fmt.Sprintf("re-initialization rejected: %d active sessions", len(e.sessions))}
	}
	if e.registry != nil {
		e.registry.Close()
	}

	reg := registry.New(e.appConfigs)
	if err := reg.Initialize(config); err != nil {
		return err
	}

	// stop any janitor from the previous lifecycle and give the new one fresh
	// plumbing, so an engine reused after Close still evicts idle sessions
	e.closeOnce.Do(func() { close(e.janitorStop) })
	e.janitorStop = make(chan struct{})
	e.janitorOnce = sync.Once{}
	e.closeOnce = sync.Once{}

	e.registry = reg
	e.runner = nil
	e.ready = false
	e.initialized = true
	logger.Info(fmt.Sprintf("Engine initialized on backend %s", reg.BoundBackend()))
	return nil
}

// LoadModels loads and validates every model the manifest in dir references.
// The engine is ready to process frames only after this succeeds; a failed
// load leaves it not ready.
func (e *Engine) LoadModels(dir string) (*registry.LoadedManifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, &errors.LoadError{ErrorMsg: "engine not initialized"}
	}

	manifest, err := e.registry.LoadModels(dir)
	if err != nil {
		e.ready = false
		return nil, err
	}

	runner, err := strategy.NewRunner(e.appConfigs, e.registry)
	if err != nil {
		e.ready = false
		return nil, err
	}

	detectorModel, err := e.registry.ModelByKind(registry.KindFaceDetector)
	if err != nil {
		e.ready = false
		return nil, err
	}
	parserModel, err := e.registry.ModelByKind(registry.KindFaceParser)
	if err != nil {
		e.ready = false
		return nil, err
	}
	estimatorModel, err := e.registry.ModelByKind(registry.KindAgeEstimator)
	if err != nil {
		e.ready = false
		return nil, err
	}

	e.runner = runner
	e.stab = stabilizer.New(e.appConfigs)
	e.detector = faces.NewDetector(detectorModel)
	e.parser = faces.NewParser(parserModel)
	e.estimator = faces.NewEstimator(estimatorModel)
	e.ready = true

	e.janitorOnce.Do(func() { go e.janitor(e.janitorStop) })
	return manifest, nil
}

func (e *Engine) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

func (e *Engine) SetProcessingMode(mode models.ProcessingMode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

func (e *Engine) GetProcessingMode() models.ProcessingMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *Engine) VersionInfo() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.registry == nil {
		return "UFRa Engine (uninitialized)"
	}
	return e.registry.VersionInfo()
}

// StartSession opens a new subject stream with its own stabilizer state.
func (e *Engine) StartSession() (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil, &errors.SessionStateError{ErrorMsg: "engine not ready, load models first"}
	}
	session := newSession(e)
	e.sessions[session.ID] = session
	metrics.Gauge("ufra.engine.sessions.active", float64(len(e.sessions)), nil)
	return session, nil
}

// ProcessFrame is the standalone-image path: one frame, no cross-frame
// history (stabilization seeds and passes through).
func (e *Engine) ProcessFrame(ctx context.Context, fc models.FrameContext) models.ProcessingResult {
	return e.processFrame(ctx, fc, stabilizer.NewState(), 0)
}

// ProcessBatch runs independent contexts in order with no shared history.
func (e *Engine) ProcessBatch(ctx context.Context, fcs []models.FrameContext) []models.ProcessingResult {
	results := make([]models.ProcessingResult, 0, len(fcs))
	for _, fc := range fcs {
		results = append(results, e.ProcessFrame(ctx, fc))
	}
	return results
}

// DetectFaces exposes the detector for callers that want boxes without a
// full transformation pass.
func (e *Engine) DetectFaces(buf *frame.Buffer) []faces.Face {
	e.mu.RLock()
	detector := e.detector
	e.mu.RUnlock()
	if detector == nil {
		return nil
	}
	return detector.DetectFaces(buf)
}

// EstimateAge predicts the apparent age of a detected face.
func (e *Engine) EstimateAge(face faces.Face) float64 {
	e.mu.RLock()
	estimator := e.estimator
	e.mu.RUnlock()
	if estimator == nil {
		return 0
	}
	return estimator.EstimateAge(face.Crop)
}

// PerformanceMetrics aggregates engine-wide counters across all sessions.
func (e *Engine) PerformanceMetrics() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := map[string]float64{
		"frames_total":    float64(e.framesTotal),
		"frames_failed":   float64(e.framesFailed),
		"sessions_active": float64(len(e.sessions)),
	}
	if e.framesTotal > 0 {
		out["avg_processing_time_ms"] = float64(e.totalLatency.Milliseconds()) / float64(e.framesTotal)
	}
	return out
}

// Close ends every session and releases model resources.
func (e *Engine) Close() {
	e.mu.Lock()
	snapshot := make([]*Session, 0, len(e.sessions))
	for id, session := range e.sessions {
		snapshot = append(snapshot, session)
		delete(e.sessions, id)
	}
	if e.registry != nil {
		e.registry.Close()
	}
	e.ready = false
	e.initialized = false
	e.closeOnce.Do(func() { close(e.janitorStop) })
	e.mu.Unlock()

	// session locks are taken outside the engine lock (see janitor): a session
	// mid-frame holds its own lock while taking the engine lock
	for _, session := range snapshot {
		session.markClosed()
	}
}

// processFrame runs the full per-frame pipeline: detect → strategy →
// composite → stabilize → metrics. Any stage failure yields success=false
// for this frame only; the engine and session remain usable.
func (e *Engine) processFrame(ctx context.Context, fc models.FrameContext, state *stabilizer.State, observedFps float64) models.ProcessingResult {
	startTime := time.Now()

	e.mu.RLock()
	ready := e.ready
	runner := e.runner
	stab := e.stab
	detector := e.detector
	parser := e.parser
	var boundBackend float64
	if e.registry != nil {
		boundBackend = float64(e.registry.BoundBackend())
	}
	e.mu.RUnlock()

	if !ready {
		return failureResult("engine not ready, load models first")
	}
	if err := fc.InputFrame.Validate(); err != nil {
		e.recordFrame(time.Since(startTime), false)
		return failureResult(err.Error())
	}
	if fc.FrameNumber < 0 {
		e.recordFrame(time.Since(startTime), false)
		err := &errors.RequestError{ErrorMsg: fmt.Sprintf("frame number must be non-negative, got %d", fc.FrameNumber)}
		return failureResult(err.Error())
	}

	controls := fc.Controls.Clamped()
	resolved := runner.Resolve(fc.Mode, fc.InputFrame, observedFps)

	result := models.ProcessingResult{Metrics: map[string]float64{}}
	result.Metrics[models.MetricBackend] = boundBackend
	result.Metrics[models.MetricModeApplied] = float64(resolved)

	detectStart := time.Now()
	detected := detector.DetectFaces(fc.InputFrame)
	result.Metrics[models.MetricDetectTimeMs] = msSince(detectStart)

	output := fc.InputFrame.Clone()
	inferStart := time.Now()
	degraded := false
	steps := 0
	for _, face := range detected {
		mask := parser.ParseFace(face.Crop)
		processed, info, err := runner.Run(ctx, resolved, &strategy.Request{
			Crop:     face.Crop,
			Controls: controls,
			Mask:     mask,
			Seed:     int64(fc.FrameNumber),
		})
		if err != nil {
			e.recordFrame(time.Since(startTime), false)
			logger.PercentError(fmt.Sprintf("Frame %d inference failed", fc.FrameNumber), err, e.appConfigs.Configs.ErrorLoggingPercent)
			metrics.Count("ufra.engine.frame.error", 1, []string{"mode", resolved.String()})
			return failureResult(err.Error())
		}
		faces.CompositeFace(output, processed, face)
		steps += info.Steps
		degraded = degraded || info.Degraded
	}
	result.Metrics[models.MetricInferenceTimeMs] = msSince(inferStart)
	result.Metrics[models.MetricFacesProcessed] = float64(len(detected))
	result.Metrics[models.MetricDiffusionSteps] = float64(steps)
	if degraded {
		result.Metrics[models.MetricDiffusionDegraded] = 1
	} else {
		result.Metrics[models.MetricDiffusionDegraded] = 0
	}

	stabilizeStart := time.Now()
	stabilized := output
	if len(detected) > 0 {
		stabilized = stab.Stabilize(output, controls, state)
	}
	result.Metrics[models.MetricStabilizeTimeMs] = msSince(stabilizeStart)
	result.Metrics[models.MetricStabilizerResets] = float64(state.ResetCount())

	elapsed := time.Since(startTime)
	result.Success = true
	result.OutputFrame = stabilized
	result.Metrics[models.MetricProcessingTimeMs] = msSince(startTime)

	e.recordFrame(elapsed, true)
	metrics.Timing("ufra.engine.frame.latency", elapsed, []string{"mode", resolved.String()})
	metrics.Count("ufra.engine.frame.total", 1, []string{"mode", resolved.String()})
	return result
}

func (e *Engine) recordFrame(elapsed time.Duration, success bool) {
	e.mu.Lock()
	e.framesTotal++
	e.totalLatency += elapsed
	if !success {
		e.framesFailed++
	}
	e.mu.Unlock()
}

func (e *Engine) dropSession(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	metrics.Gauge("ufra.engine.sessions.active", float64(len(e.sessions)), nil)
	e.mu.Unlock()
}

// janitor evicts sessions idle past the configured TTL so abandoned video
// streams do not pin stabilizer state forever.
func (e *Engine) janitor(stop <-chan struct{}) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ttl := time.Duration(e.appConfigs.Configs.SessionIdleTTLSec) * time.Second
			if ttl <= 0 {
				continue
			}
			cutoff := time.Now().Add(-ttl)
			e.mu.RLock()
			snapshot := make([]*Session, 0, len(e.sessions))
			for _, session := range e.sessions {
				snapshot = append(snapshot, session)
			}
			e.mu.RUnlock()
			// session locks are taken outside the engine lock; sessions take
			// the engine lock while holding their own
			for _, session := range snapshot {
				if session.idleSince().Before(cutoff) {
					session.markClosed()
					e.dropSession(session.ID)
					logger.Info(fmt.Sprintf("Evicted idle session %s", session.ID))
				}
			}
		}
	}
}

func failureResult(message string) models.ProcessingResult {
	return models.ProcessingResult{
		Success:      false,
		ErrorMessage: message,
		Metrics:      map[string]float64{},
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
