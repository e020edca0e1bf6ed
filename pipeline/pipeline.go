package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/facial-attribute-service/detections"
	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultErrorLogRate = 1.0

type Config struct {
	// EmbeddingOutputs are model outputs that are not attribute heads.
	EmbeddingOutputs []string
	// ErrorLogRate caps inference failure log lines per second.
	ErrorLogRate float64
	Logger       logrus.FieldLogger
	// Normalization is the model's input statistics. Zero means ImageNet.
	Normalization detections.Normalization
	// StartInactive starts the pipeline Inactive. The zero Config starts Active.
	StartInactive bool
}

// Pipeline is the throttled frame inference core: frames land in a
// latest-wins slot, a dispatcher hands them to ProcessFrame, and the gate
// lets at most one through to the engine at a time.
type Pipeline struct {
	gate    *Gate
	slot    *FrameSlot
	results *ResultStore
	engine  *engineHandle

	active   atomic.Bool
	detached atomic.Bool
	seq      atomic.Uint64

	fps        *RateCounter
	detections *RateCounter

	inferences    atomic.Uint64
	failures      atomic.Uint64
	inactiveSkips atomic.Uint64
	superseded    atomic.Uint64
	lastTimings   atomic.Pointer[models.ProcessingTimings]

	embeddings []string
	norm       detections.Normalization
	log        logrus.FieldLogger
	errLimiter *rate.Limiter
	suppressed atomic.Uint64
}

func New(load EngineLoader, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ErrorLogRate <= 0 {
		cfg.ErrorLogRate = DefaultErrorLogRate
	}
	if cfg.EmbeddingOutputs == nil {
		cfg.EmbeddingOutputs = []string{detections.DefaultEmbeddingOutput}
	}

	now := time.Now()
	p := &Pipeline{
		gate:       NewGate(),
		slot:       &FrameSlot{},
		results:    NewResultStore(),
		engine:     newEngineHandle(load),
		fps:        NewRateCounter(now),
		detections: NewRateCounter(now),
		embeddings: cfg.EmbeddingOutputs,
		norm:       cfg.Normalization,
		log:        cfg.Logger.WithField("component", "pipeline"),
		errLimiter: rate.NewLimiter(rate.Limit(cfg.ErrorLogRate), 1),
	}
	p.active.Store(!cfg.StartInactive)
	return p
}

// OnFrame is the frame source callback. It only swaps the pending slot.
func (p *Pipeline) OnFrame(frame *models.Frame) {
	if frame == nil || p.detached.Load() {
		return
	}
	if frame.Seq == 0 {
		frame.Seq = p.seq.Add(1)
	}
	p.slot.Put(frame)
}

// TakeFrame empties the pending slot.
func (p *Pipeline) TakeFrame() *models.Frame {
	return p.slot.Take()
}

// ProcessFrame classifies frame if the gate is free and the pipeline is
// Active. Dropped frames and failures are not reported to the caller.
func (p *Pipeline) ProcessFrame(frame *models.Frame) {
	p.gate.Do(func() {
		p.processAdmitted(frame)
	})
}

func (p *Pipeline) processAdmitted(frame *models.Frame) {
	if !p.active.Load() {
		p.inactiveSkips.Add(1)
		return
	}

	epoch := p.results.Epoch()
	start := time.Now()
	timings := &models.ProcessingTimings{}
	if frame != nil {
		timings.TraceID = frame.TraceID
	}

	defer func() {
		if r := recover(); r != nil {
			p.fail(frame, &detections.ProcessingError{
				Stage: detections.StageInference,
				Cause: fmt.Errorf("panic: %v", r),
			})
		}
	}()

	attributes, err := p.classify(frame, timings)
	if err != nil {
		p.fail(frame, err)
		return
	}

	if !p.results.Replace(attributes, frame.Width, frame.Height, epoch) {
		p.superseded.Add(1)
		p.log.WithField("seq", frame.Seq).Debug("result superseded by toggle or teardown")
	}

	timings.Total = time.Since(start)
	p.lastTimings.Store(timings)
	p.inferences.Add(1)
	p.logTimings(frame, timings)
}

func (p *Pipeline) classify(frame *models.Frame, timings *models.ProcessingTimings) (models.Attributes, error) {
	if frame == nil || frame.Image == nil {
		return nil, &detections.ProcessingError{Stage: detections.StageResize, Cause: fmt.Errorf("%w: no image", detections.ErrInvalidFrame)}
	}
	if frame.Width == 0 || frame.Height == 0 {
		b := frame.Image.Bounds()
		frame.Width, frame.Height = b.Dx(), b.Dy()
	}

	shape, err := p.engine.inputShape()
	if err != nil {
		return nil, &detections.ProcessingError{Stage: detections.StageLoad, Cause: err}
	}

	input, err := detections.Prepare(frame.Image, shape, p.norm, timings)
	if err != nil {
		return nil, err
	}

	inferStart := time.Now()
	outputs, err := p.engine.run(input)
	if err != nil {
		return nil, &detections.ProcessingError{Stage: detections.StageInference, Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	attributes := detections.Postprocess(outputs, p.embeddings)
	timings.Postprocess = time.Since(postStart)

	return attributes, nil
}

// fail clears results so the render tick never shows attributes for a frame
// that could not be classified.
func (p *Pipeline) fail(frame *models.Frame, err error) {
	p.results.Clear()
	p.failures.Add(1)

	fields := logrus.Fields{"error": err.Error()}
	if frame != nil {
		fields["seq"] = frame.Seq
		if frame.TraceID != "" {
			fields["trace_id"] = frame.TraceID
		}
	}

	if errors.Is(err, detections.ErrEngineClosed) {
		p.log.WithFields(fields).Debug("frame skipped, engine closed")
		return
	}

	if !p.errLimiter.Allow() {
		p.suppressed.Add(1)
		return
	}
	if n := p.suppressed.Swap(0); n > 0 {
		fields["suppressed"] = n
	}
	p.log.WithFields(fields).Warn("frame processing failed")
}

func (p *Pipeline) logTimings(frame *models.Frame, t *models.ProcessingTimings) {
	p.log.WithFields(logrus.Fields{
		"seq":         frame.Seq,
		"trace_id":    t.TraceID,
		"resize":      t.Resize,
		"preprocess":  t.Preprocess,
		"inference":   t.Inference,
		"postprocess": t.Postprocess,
		"total":       t.Total,
	}).Debug("frame processed")
}

// Detached reports whether Teardown has run.
func (p *Pipeline) Detached() bool {
	return p.detached.Load()
}

func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// SetActive moves to the requested state. A real transition clears the
// results and resets the detection counters; it never cancels an inference
// already running.
func (p *Pipeline) SetActive(active bool) bool {
	if !p.active.CompareAndSwap(!active, active) {
		return false
	}
	p.resetForTransition()
	p.log.WithField("active", active).Info("feature detection toggled")
	return true
}

// Toggle flips the state and returns the new one.
func (p *Pipeline) Toggle() bool {
	for {
		current := p.active.Load()
		if p.SetActive(!current) {
			return !current
		}
	}
}

func (p *Pipeline) resetForTransition() {
	p.results.Clear()
	p.detections.Reset(time.Now())
}

// Result is the latest classification snapshot.
func (p *Pipeline) Result() Result {
	return p.results.Snapshot()
}

// Render is the render tick: it counts a rendered frame, counts a detection
// when attributes are on screen, and returns what to draw.
func (p *Pipeline) Render(now time.Time) models.Overlay {
	result := p.results.Snapshot()
	active := p.active.Load()

	fps := p.fps.Tick(now)
	dps := p.detections.Rate()
	if active && len(result.Attributes) > 0 {
		dps = p.detections.Tick(now)
	}

	attributes := result.Attributes
	if !active || attributes == nil {
		attributes = models.Attributes{}
	}

	return models.Overlay{
		Version:             result.Version,
		Active:              active,
		Attributes:          attributes,
		FPS:                 fps,
		DetectionsPerSecond: dps,
		FrameWidth:          result.FrameWidth,
		FrameHeight:         result.FrameHeight,
		RenderedAt:          now,
	}
}

// Teardown detaches from the frame source, destroys the engine and clears
// pending state. It waits for an in-flight inference through the engine
// lock. Later calls are no-ops.
func (p *Pipeline) Teardown() error {
	if !p.detached.CompareAndSwap(false, true) {
		return nil
	}

	err := p.engine.close()
	p.slot.Clear()
	p.results.Clear()

	if err != nil {
		return fmt.Errorf("destroy engine: %w", err)
	}
	p.log.Info("pipeline torn down")
	return nil
}

type Stats struct {
	Active        bool                      `json:"active"`
	EngineLoaded  bool                      `json:"engine_loaded"`
	Detached      bool                      `json:"detached"`
	FramePending  bool                      `json:"frame_pending"`
	Gate          GateStats                 `json:"gate"`
	Overwritten   uint64                    `json:"frames_overwritten"`
	InactiveSkips uint64                    `json:"inactive_skips"`
	Inferences    uint64                    `json:"inferences"`
	Failures      uint64                    `json:"failures"`
	Superseded    uint64                    `json:"superseded"`
	LastTimings   *models.ProcessingTimings `json:"last_timings,omitempty"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Active:        p.active.Load(),
		EngineLoaded:  p.engine.loaded(),
		Detached:      p.detached.Load(),
		FramePending:  p.slot.Pending(),
		Gate:          p.gate.Stats(),
		Overwritten:   p.slot.Overwritten(),
		InactiveSkips: p.inactiveSkips.Load(),
		Inferences:    p.inferences.Load(),
		Failures:      p.failures.Load(),
		Superseded:    p.superseded.Load(),
		LastTimings:   p.lastTimings.Load(),
	}
}
