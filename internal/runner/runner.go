package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Capitan-Parrot/waste-sorter/internal/actuator"
	"github.com/Capitan-Parrot/waste-sorter/internal/capture"
	"github.com/Capitan-Parrot/waste-sorter/internal/models"
	"github.com/Capitan-Parrot/waste-sorter/internal/selector"
	"github.com/Capitan-Parrot/waste-sorter/internal/trigger"
)

const (
	defaultRetries           = 3
	defaultHeartbeatInterval = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	sinkTimeout              = 2 * time.Second
)

type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]models.Detection, error)
}

// Link is the part of the actuator link the runner manages directly.
type Link interface {
	Connect(ctx context.Context) error
	State() actuator.State
}

// Sink receives every attempt that reached the actuator link.
type Sink interface {
	RecordActuation(ctx context.Context, ev models.ActuationEvent) error
}

type ResultArchive interface {
	SaveDetectionResults(ctx context.Context, sessionID string, frameIndex int, detections []models.Detection) error
}

type HeartbeatSender interface {
	SendHeartbeat(hb models.Heartbeat) error
}

type Options struct {
	SessionID         string
	MinConfidence     float64
	MaxRateHz         float64 // 0 disables throttling
	Retries           int
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	Now               func() time.Time
}

type Runner struct {
	source      capture.Source
	detector    Detector
	coordinator *trigger.Coordinator
	link        Link
	sinks       []Sink
	archive     ResultArchive
	heartbeats  HeartbeatSender
	limiter     *rate.Limiter
	opts        Options

	enabled        atomic.Bool
	reconnectReq   chan struct{}
	lastReconnect  time.Time
	framesDone     atomic.Int64
	mu             sync.Mutex
	lastResult     *trigger.FireResult
	lastResultTime time.Time
}

func New(source capture.Source, detector Detector, coordinator *trigger.Coordinator, link Link, opts Options) *Runner {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Runner{
		source:       source,
		detector:     detector,
		coordinator:  coordinator,
		link:         link,
		opts:         opts,
		reconnectReq: make(chan struct{}, 1),
	}
	if opts.MaxRateHz > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.MaxRateHz), 1)
	}
	r.enabled.Store(true)
	return r
}

func (r *Runner) AddSink(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Runner) SetArchive(a ResultArchive) { r.archive = a }

func (r *Runner) SetHeartbeats(h HeartbeatSender) { r.heartbeats = h }

// Run processes frames until the source ends or ctx is cancelled. Both are
// a normal shutdown and return nil.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("Runner %s: started", r.opts.SessionID)
	defer func() {
		log.Printf("Runner %s: stopped after %d frames", r.opts.SessionID, r.framesDone.Load())
	}()

	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sendHeartbeat()
		case <-r.reconnectReq:
			r.reconnect(ctx, true)
		default:
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		frame, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				log.Printf("Runner %s: end of stream", r.opts.SessionID)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("Runner %s: capture error: %v", r.opts.SessionID, err)
			continue
		}

		r.processFrame(ctx, frame)
	}
}

func (r *Runner) processFrame(ctx context.Context, frame capture.Frame) {
	detections, ok := r.detectWithRetries(ctx, frame)
	if !ok {
		return
	}
	r.framesDone.Add(1)

	detections = selector.AboveConfidence(detections, r.opts.MinConfidence)

	if r.archive != nil {
		if err := r.archive.SaveDetectionResults(ctx, r.opts.SessionID, frame.Index, detections); err != nil {
			log.Warnf("Runner %s: save detection error: %v", r.opts.SessionID, err)
		}
	}

	if !r.enabled.Load() {
		return
	}
	if !r.linkReady(ctx) {
		log.Debugf("Runner %s: frame %d skipped, actuator %s", r.opts.SessionID, frame.Index, r.linkState())
		return
	}

	res := r.coordinator.Evaluate(selector.Select(detections), r.opts.Now())
	r.recordResult(res)

	switch res.Outcome {
	case models.OutcomeFired:
		log.Infof("Runner %s: frame %d %s -> %s", r.opts.SessionID, frame.Index, res.Class, res.Command)
		r.emit(ctx, res)
	case models.OutcomeLinkError:
		log.Warnf("Runner %s: frame %d %s: %v", r.opts.SessionID, frame.Index, res.Class, res.Err)
		r.emit(ctx, res)
		r.reconnect(ctx, false)
	default:
		log.Debugf("Runner %s: frame %d %s", r.opts.SessionID, frame.Index, res.Outcome)
	}
}

func (r *Runner) detectWithRetries(ctx context.Context, frame capture.Frame) ([]models.Detection, bool) {
	for attempt := 0; attempt < r.opts.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}
		detections, err := r.detector.Detect(ctx, frame.Data)
		if err == nil {
			return detections, true
		}
		log.Warnf("Runner %s: detection error on frame %d (attempt %d): %v", r.opts.SessionID, frame.Index, attempt+1, err)
	}

	log.Errorf("Runner %s: failed to process frame %d", r.opts.SessionID, frame.Index)
	return nil, false
}

// linkReady reports whether the link can take a command. A degraded link
// gets a throttled reconnect attempt; until one succeeds frames are not
// evaluated and nothing is emitted.
func (r *Runner) linkReady(ctx context.Context) bool {
	if r.link == nil || r.link.State() == actuator.StateConnected {
		return true
	}
	r.reconnect(ctx, false)
	return r.link.State() == actuator.StateConnected
}

// reconnect reopens the link. Unforced attempts are spaced by ReconnectInterval.
func (r *Runner) reconnect(ctx context.Context, force bool) {
	if r.link == nil {
		return
	}
	now := r.opts.Now()
	if !force && !r.lastReconnect.IsZero() && now.Sub(r.lastReconnect) < r.opts.ReconnectInterval {
		return
	}
	r.lastReconnect = now

	if err := r.link.Connect(ctx); err != nil {
		log.Errorf("Runner %s: reconnect failed, actuation disabled until next attempt: %v", r.opts.SessionID, err)
		return
	}
	log.Infof("Runner %s: actuator reconnected", r.opts.SessionID)
}

func (r *Runner) emit(ctx context.Context, res trigger.FireResult) {
	if len(r.sinks) == 0 {
		return
	}

	ev := models.ActuationEvent{
		ID:         uuid.NewString(),
		SessionID:  r.opts.SessionID,
		Class:      res.Class,
		Confidence: res.Confidence,
		Command:    res.Command,
		Outcome:    res.Outcome,
		OccurredAt: r.opts.Now().UTC(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}

	sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.RecordActuation(sinkCtx, ev); err != nil {
			log.Warnf("Runner %s: actuation sink error: %v", r.opts.SessionID, err)
		}
	}
}

func (r *Runner) sendHeartbeat() {
	if r.heartbeats == nil {
		return
	}
	if err := r.heartbeats.SendHeartbeat(models.Heartbeat{
		SessionID: r.opts.SessionID,
		LinkState: string(r.linkState()),
		Enabled:   r.enabled.Load(),
		Frame:     r.framesDone.Load(),
		TimeStamp: r.opts.Now().UTC(),
	}); err != nil {
		log.Warnf("Runner %s error sending live heartbeat: %v", r.opts.SessionID, err)
	}
}

func (r *Runner) recordResult(res trigger.FireResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastResult = &res
	r.lastResultTime = r.opts.Now()
}

func (r *Runner) linkState() actuator.State {
	if r.link == nil {
		return actuator.StateDisconnected
	}
	return r.link.State()
}
