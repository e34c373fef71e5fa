package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/waste-sorter/internal/actuator"
	"github.com/Capitan-Parrot/waste-sorter/internal/capture"
	"github.com/Capitan-Parrot/waste-sorter/internal/commandmap"
	"github.com/Capitan-Parrot/waste-sorter/internal/kafka"
	"github.com/Capitan-Parrot/waste-sorter/internal/models"
	"github.com/Capitan-Parrot/waste-sorter/internal/trigger"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// timedSource yields one frame per offset and moves the clock to it.
type timedSource struct {
	clock   *clock
	offsets []time.Duration
	next    int
	errs    map[int]error
}

func (s *timedSource) Next(ctx context.Context) (capture.Frame, error) {
	if s.next >= len(s.offsets) {
		return capture.Frame{}, capture.ErrEndOfStream
	}
	idx := s.next
	s.next++
	if err := s.errs[idx]; err != nil {
		return capture.Frame{}, err
	}
	s.clock.set(t0.Add(s.offsets[idx]))
	return capture.Frame{Index: idx, Data: []byte{byte(idx)}}, nil
}

func (s *timedSource) Close() error { return nil }

type staticDetector struct {
	detections []models.Detection
	failures   int
	calls      int
}

func (d *staticDetector) Detect(context.Context, []byte) ([]models.Detection, error) {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("inference down")
	}
	return d.detections, nil
}

type fakeLink struct {
	sent       []models.Command
	sendErr    error
	connects   int
	connectErr error
	state      actuator.State
}

func (l *fakeLink) Send(cmd models.Command) error {
	if l.sendErr != nil {
		l.state = actuator.StateError
		return &actuator.SendError{Command: cmd, Err: l.sendErr}
	}
	l.sent = append(l.sent, cmd)
	return nil
}

func (l *fakeLink) Connect(context.Context) error {
	l.connects++
	if l.connectErr != nil {
		return l.connectErr
	}
	l.sendErr = nil
	l.state = actuator.StateConnected
	return nil
}

func (l *fakeLink) State() actuator.State { return l.state }

type memSink struct {
	events []models.ActuationEvent
	err    error
}

func (s *memSink) RecordActuation(_ context.Context, ev models.ActuationEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

type memArchive struct {
	saved map[int][]models.Detection
}

func (a *memArchive) SaveDetectionResults(_ context.Context, _ string, idx int, d []models.Detection) error {
	if a.saved == nil {
		a.saved = map[int][]models.Detection{}
	}
	a.saved[idx] = d
	return nil
}

type memHeartbeats struct {
	sent []models.Heartbeat
}

func (h *memHeartbeats) SendHeartbeat(hb models.Heartbeat) error {
	h.sent = append(h.sent, hb)
	return nil
}

func seconds(vals ...float64) []time.Duration {
	out := make([]time.Duration, len(vals))
	for i, v := range vals {
		out[i] = time.Duration(v * float64(time.Second))
	}
	return out
}

func newRunner(src *timedSource, det Detector, link *fakeLink) (*Runner, *trigger.Coordinator) {
	coord := trigger.New(link, commandmap.Default, trigger.DefaultCooldown, trigger.DefaultPause)
	r := New(src, det, coord, link, Options{
		SessionID:     "belt-1",
		MinConfidence: 0.4,
		Now:           src.clock.Now,
	})
	return r, coord
}

func TestRunFrameScenario(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 0.05, 0.5, 1.0, 1.5, 2.0, 2.5, 3.0)}
	det := &staticDetector{detections: []models.Detection{
		{Class: "其他垃圾", Score: 0.3},
		{Class: "可回收物", Score: 0.9},
	}}
	link := &fakeLink{state: actuator.StateConnected}
	sink := &memSink{}

	r, coord := newRunner(src, det, link)
	r.AddSink(sink)

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []models.Command{0x01, 0x01}, link.sent)
	require.Len(t, sink.events, 2)
	assert.Equal(t, t0, sink.events[0].OccurredAt)
	assert.Equal(t, t0.Add(2*time.Second), sink.events[1].OccurredAt)
	assert.Equal(t, "belt-1", sink.events[0].SessionID)
	assert.NotEmpty(t, sink.events[0].ID)

	st := r.Status()
	assert.Equal(t, int64(8), st.FramesProcessed)
	assert.Equal(t, models.OutcomeCooldown, st.LastOutcome)
	assert.Equal(t, t0.Add(2*time.Second), *coord.Snapshot().LastTriggerTime)
}

func TestRunBelowThresholdNeverFires(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 3, 6)}
	det := &staticDetector{detections: []models.Detection{{Class: "可回收物", Score: 0.2}}}
	link := &fakeLink{state: actuator.StateConnected}

	r, _ := newRunner(src, det, link)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, link.sent)
	assert.Equal(t, models.OutcomeNoCandidate, r.Status().LastOutcome)
}

func TestRunLinkErrorReconnectsAndRetries(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 0.04, 0.5)}
	det := &staticDetector{detections: []models.Detection{{Class: "有害垃圾", Score: 0.8}}}
	link := &fakeLink{state: actuator.StateConnected, sendErr: errors.New("unplugged")}
	sink := &memSink{}

	r, coord := newRunner(src, det, link)
	r.AddSink(sink)
	require.NoError(t, r.Run(context.Background()))

	// frame 0 fails and reconnects, frame 1 fires with no cooldown from the failure
	assert.Equal(t, 1, link.connects)
	assert.Equal(t, []models.Command{models.CommandHazardous}, link.sent)
	require.Len(t, sink.events, 2)
	assert.Equal(t, models.OutcomeLinkError, sink.events[0].Outcome)
	assert.Contains(t, sink.events[0].Error, "unplugged")
	assert.Equal(t, models.OutcomeFired, sink.events[1].Outcome)
	assert.Equal(t, t0.Add(40*time.Millisecond), *coord.Snapshot().LastTriggerTime)
}

func TestRunReconnectThrottled(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 1, 2, 3, 6)}
	det := &staticDetector{detections: []models.Detection{{Class: "有害垃圾", Score: 0.8}}}
	link := &fakeLink{state: actuator.StateError, sendErr: actuator.ErrNotConnected, connectErr: errors.New("no device")}

	r, _ := newRunner(src, det, link)
	require.NoError(t, r.Run(context.Background()))

	// attempts at t=0 and t=6 only, spaced by the 5s default interval
	assert.Equal(t, 2, link.connects)
	assert.Empty(t, link.sent)
	assert.Equal(t, int64(5), r.Status().FramesProcessed)
}

func TestRunStoppedSkipsActuation(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 3)}
	det := &staticDetector{detections: []models.Detection{{Class: "厨余垃圾", Score: 0.9}}}
	link := &fakeLink{state: actuator.StateConnected}
	archive := &memArchive{}

	r, _ := newRunner(src, det, link)
	r.SetArchive(archive)
	require.NoError(t, r.Control(models.ControlStop))
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, link.sent)
	assert.Len(t, archive.saved, 2)
	assert.False(t, r.Status().Enabled)
}

func TestRunDetectionRetries(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 3)}
	det := &staticDetector{detections: []models.Detection{{Class: "厨余垃圾", Score: 0.9}}, failures: 4}
	link := &fakeLink{state: actuator.StateConnected}

	r, _ := newRunner(src, det, link)
	require.NoError(t, r.Run(context.Background()))

	// frame 0 exhausts 3 attempts, frame 1 succeeds on its second
	assert.Equal(t, 5, det.calls)
	assert.Equal(t, int64(1), r.Status().FramesProcessed)
	assert.Equal(t, []models.Command{models.CommandKitchen}, link.sent)
}

func TestRunCaptureErrorSkipsFrame(t *testing.T) {
	clk := &clock{}
	src := &timedSource{
		clock:   clk,
		offsets: seconds(0, 3),
		errs:    map[int]error{0: errors.New("timeout")},
	}
	det := &staticDetector{detections: []models.Detection{{Class: "厨余垃圾", Score: 0.9}}}
	link := &fakeLink{state: actuator.StateConnected}

	r, _ := newRunner(src, det, link)
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, link.sent, 1)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0)}
	link := &fakeLink{}
	r, _ := newRunner(src, &staticDetector{}, link)

	assert.NoError(t, r.Run(ctx))
	assert.Zero(t, src.next)
}

func TestSinkErrorDoesNotAffectTrigger(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 2)}
	det := &staticDetector{detections: []models.Detection{{Class: "可回收物", Score: 0.9}}}
	link := &fakeLink{state: actuator.StateConnected}

	r, _ := newRunner(src, det, link)
	r.AddSink(&memSink{err: errors.New("broker down")})
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, link.sent, 2)
}

func TestControl(t *testing.T) {
	clk := &clock{}
	r, _ := newRunner(&timedSource{clock: clk}, &staticDetector{}, &fakeLink{})

	require.NoError(t, r.Control(models.ControlStop))
	assert.False(t, r.Status().Enabled)
	require.NoError(t, r.Control(models.ControlStart))
	assert.True(t, r.Status().Enabled)

	require.NoError(t, r.Control(models.ControlReconnect))
	require.NoError(t, r.Control(models.ControlReconnect))
	assert.Len(t, r.reconnectReq, 1)

	assert.Error(t, r.Control("explode"))
}

func TestQueuedReconnectRunsInLoop(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0)}
	link := &fakeLink{state: actuator.StateError}
	r, _ := newRunner(src, &staticDetector{}, link)

	require.NoError(t, r.Control(models.ControlReconnect))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, link.connects)
	assert.Equal(t, string(actuator.StateConnected), r.Status().LinkState)
}

func TestListenControl(t *testing.T) {
	clk := &clock{}
	r, _ := newRunner(&timedSource{clock: clk}, &staticDetector{}, &fakeLink{})

	msgs := make(chan kafka.Message, 3)
	msgs <- kafka.Message{Value: []byte(`{"action":"stop"}`)}
	msgs <- kafka.Message{Value: []byte(`not json`)}
	msgs <- kafka.Message{Value: []byte(`{"action":"bogus"}`)}
	close(msgs)

	r.ListenControl(context.Background(), msgs)
	assert.False(t, r.Status().Enabled)
}

func TestRunDegradedLinkEmitsNothing(t *testing.T) {
	clk := &clock{}
	offsets := make([]time.Duration, 100)
	for i := range offsets {
		offsets[i] = time.Duration(i) * 100 * time.Millisecond
	}
	src := &timedSource{clock: clk, offsets: offsets}
	det := &staticDetector{detections: []models.Detection{{Class: "可回收物", Score: 0.9}}}
	link := &fakeLink{
		state:      actuator.StateDisconnected,
		sendErr:    actuator.ErrNotConnected,
		connectErr: errors.New("absent"),
	}
	sink := &memSink{}

	r, coord := newRunner(src, det, link)
	r.AddSink(sink)
	require.NoError(t, r.Run(context.Background()))

	// 10s of frames: detection goes on, reconnects stay on the 5s schedule
	assert.Equal(t, int64(100), r.Status().FramesProcessed)
	assert.Empty(t, sink.events)
	assert.Empty(t, link.sent)
	assert.Equal(t, 2, link.connects)
	assert.Nil(t, coord.Snapshot().LastTriggerTime)
}

func TestRunLinkLossEmitsOnce(t *testing.T) {
	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 0.5, 1, 1.5, 2, 2.5, 3)}
	det := &staticDetector{detections: []models.Detection{{Class: "其他垃圾", Score: 0.7}}}
	link := &fakeLink{
		state:      actuator.StateConnected,
		sendErr:    errors.New("unplugged"),
		connectErr: errors.New("absent"),
	}
	sink := &memSink{}

	r, _ := newRunner(src, det, link)
	r.AddSink(sink)
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, sink.events, 1)
	assert.Equal(t, models.OutcomeLinkError, sink.events[0].Outcome)
	assert.Equal(t, 1, link.connects)
	assert.Equal(t, string(actuator.StateError), r.Status().LinkState)
}

func TestRunLogsFrameCountOnStop(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	clk := &clock{}
	src := &timedSource{clock: clk, offsets: seconds(0, 1, 2)}
	r, _ := newRunner(src, &staticDetector{}, &fakeLink{state: actuator.StateConnected})
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, "Runner belt-1: stopped after 3 frames", hook.LastEntry().Message)
}

func TestHeartbeatUsesClock(t *testing.T) {
	clk := &clock{now: t0.Add(42 * time.Second)}
	link := &fakeLink{state: actuator.StateConnected}
	r, _ := newRunner(&timedSource{clock: clk}, &staticDetector{}, link)
	hb := &memHeartbeats{}
	r.SetHeartbeats(hb)

	r.sendHeartbeat()

	require.Len(t, hb.sent, 1)
	assert.Equal(t, t0.Add(42*time.Second), hb.sent[0].TimeStamp)
	assert.Equal(t, "connected", hb.sent[0].LinkState)
	assert.Equal(t, "belt-1", hb.sent[0].SessionID)
}
