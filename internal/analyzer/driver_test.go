package analyzer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"videoguard/internal/analyzererr"
	"videoguard/internal/frame"
	"videoguard/internal/ws"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "[analyzer-test] ", log.Ltime)
}

// requireFFmpeg skips scenarios that exercise a real clip write, matching
// the ffmpeg-skip pattern used by internal/streamio and internal/eventclip.
func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available on PATH, skipping clip-recording scenario")
	}
}

func solidJPEG(t *testing.T, c color.Gray) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// fakeReader hands out batches of batchSize frames from a fixed sequence,
// then returns analyzererr.EndOfVideoError once exhausted. An optional
// failAfter makes Read return a ConnectionError once the given number of
// batches have been served, simulating scenario 3's mid-stream drop.
type fakeReader struct {
	mu        sync.Mutex
	frames    []frame.Frame
	pos       int
	opened    bool
	openErr   error
	failAfter int
	served    int
	released  bool
}

func (r *fakeReader) Open(timeout time.Duration) error {
	r.opened = true
	return r.openErr
}

func (r *fakeReader) Read(ctx context.Context, batchSize int) ([]frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failAfter > 0 && r.served >= r.failAfter {
		return nil, analyzererr.NewConnectionError("fake://source", context.DeadlineExceeded)
	}
	if r.pos >= len(r.frames) {
		return nil, analyzererr.EndOfVideoError
	}
	end := r.pos + batchSize
	if end > len(r.frames) {
		end = len(r.frames)
	}
	batch := r.frames[r.pos:end]
	r.pos = end
	r.served++
	return batch, nil
}

func (r *fakeReader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
}

// fakeStepper is an IntrusionStepper controlled entirely by a caller-supplied
// function, keyed off a running frame counter — it ignores the motion/dets
// arguments runLoop computes, since the scenarios below drive the FSM
// transitions directly rather than depending on the real motion filter's
// pixel-diff verdict.
type fakeStepper struct {
	mu      sync.Mutex
	seen    int
	modeFor func(globalIndex int) frame.Mode
	labels  []string
}

func (s *fakeStepper) Step(width, height int, batch frame.Batch, motionResult frame.MotionResult, dets []frame.ImageDetections) []frame.AnnotatedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]frame.AnnotatedFrame, len(batch))
	for i, f := range batch {
		mode := s.modeFor(s.seen)
		af := frame.AnnotatedFrame{Frame: f, Mode: mode}
		if mode == frame.ModeAlertStart || mode == frame.ModeAlerting {
			af.Labels = s.labels
		}
		out[i] = af
		s.seen++
	}
	return out
}

type fakeDetect struct{}

func (fakeDetect) Detect(ctx context.Context, images [][]byte) ([]frame.ImageDetections, error) {
	out := make([]frame.ImageDetections, len(images))
	return out, nil
}

type fakeSinks struct {
	mu      sync.Mutex
	events  []NotifyEvent
	objects map[string][]byte
}

func newFakeSinks() *fakeSinks {
	return &fakeSinks{objects: make(map[string][]byte)}
}

func (s *fakeSinks) PublishEvent(ctx context.Context, ev NotifyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSinks) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeSinks) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeSinks) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakePreview struct {
	mu    sync.Mutex
	count int
}

func (p *fakePreview) BroadcastDetection(analyzerID string, msg *ws.DetectionMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
}

func (p *fakePreview) broadcastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// fakeClock hands out strictly increasing timestamps, one second apart, so
// assertions on driverSignal.at have a stable ordering without sleeping.
func fakeClock() func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func framesWithColor(n int, c color.Gray, t *testing.T) []frame.Frame {
	base := time.Unix(1700000000, 0)
	out := make([]frame.Frame, n)
	for i := 0; i < n; i++ {
		out[i] = frame.Frame{
			Image:     solidJPEG(t, c),
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
		}
	}
	return out
}

func waitForSignal(t *testing.T, d *Driver, kind driverSignalKind, timeout time.Duration) driverSignal {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case sig := <-d.Status():
			if sig.kind == kind {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for driver signal kind %v", kind)
		}
	}
}

// scenario 1: happy path — a 30-frame clip where "person" is caught in
// frames 5-20 only; expect a start event with Triggered == ["person"], and,
// once the clip stops, its video, metadata and thumbnail objects uploaded.
func TestDriverScenarioHappyPath(t *testing.T) {
	requireFFmpeg(t)

	clipDir := filepath.Join(os.TempDir(), "videoguard-clips-test-happy-path")
	if err := os.MkdirAll(filepath.Join(clipDir, "intrusion_detection", "cam-happy"), 0o755); err != nil {
		t.Fatalf("mkdir clip dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(clipDir) })

	frames := framesWithColor(30, color.Gray{Y: 120}, t)
	reader := &fakeReader{frames: frames}

	stepper := &fakeStepper{
		labels: []string{"person"},
		modeFor: func(i int) frame.Mode {
			switch {
			case i < 5:
				return frame.ModeNormal
			case i == 5:
				return frame.ModeAlertStart
			case i <= 20:
				return frame.ModeAlerting
			default:
				return frame.ModeAlertEnd
			}
		},
	}

	sinks := newFakeSinks()
	preview := &fakePreview{}
	clock := fakeClock()

	d := NewDriver("cam-happy", "intrusion_detection", Source{URL: "fake://cam"}, frame.IntrusionConfig{FPS: 15}, 8, 8, fakeDetect{}, sinks, preview, testLogger())
	d.clipDirOverride(clipDir)
	d.withTestDeps(
		func(url string, fps, width, height int) Reader { return reader },
		func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) { return stepper, nil },
		clock,
	)

	d.Run()
	t.Cleanup(d.Stop)

	waitForSignal(t, d, signalReady, 2*time.Second)

	deadline := time.After(3 * time.Second)
	for sinks.eventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a started event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := sinks.events[0].Triggered; len(got) != 1 || got[0] != "person" {
		t.Errorf("Triggered = %v, want [person]", got)
	}

	deadline = time.After(3 * time.Second)
	for sinks.objectCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for clip+metadata+thumbnail objects, got %d", sinks.objectCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// scenario 2: a static input with no caught detections never starts a clip
// and never publishes an event.
func TestDriverScenarioNoMotionNoDetection(t *testing.T) {
	frames := framesWithColor(10, color.Gray{Y: 50}, t)
	reader := &fakeReader{frames: frames}
	stepper := &fakeStepper{modeFor: func(i int) frame.Mode { return frame.ModeNormal }}
	sinks := newFakeSinks()

	d := NewDriver("cam-static", "intrusion_detection", Source{URL: "fake://cam"}, frame.IntrusionConfig{FPS: 15}, 8, 8, fakeDetect{}, sinks, nil, testLogger())
	d.withTestDeps(
		func(url string, fps, width, height int) Reader { return reader },
		func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) { return stepper, nil },
		fakeClock(),
	)

	d.Run()
	t.Cleanup(d.Stop)

	waitForSignal(t, d, signalReady, 2*time.Second)

	// Give the loop time to drain every frame (it will then block on Read
	// returning EndOfVideoError and the goroutine exits) before asserting.
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if reader.released {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := sinks.eventCount(); got != 0 {
		t.Errorf("eventCount = %d, want 0", got)
	}
}

// scenario 3: the source drops mid-stream; the driver must emit
// signalSourceDown rather than hang or silently exit.
func TestDriverScenarioSourceDownDuringRead(t *testing.T) {
	frames := framesWithColor(20, color.Gray{Y: 90}, t)
	reader := &fakeReader{frames: frames, failAfter: 1}
	stepper := &fakeStepper{modeFor: func(i int) frame.Mode { return frame.ModeNormal }}

	d := NewDriver("cam-drop", "intrusion_detection", Source{URL: "fake://cam"}, frame.IntrusionConfig{FPS: 15}, 8, 8, fakeDetect{}, newFakeSinks(), nil, testLogger())
	d.withTestDeps(
		func(url string, fps, width, height int) Reader { return reader },
		func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) { return stepper, nil },
		fakeClock(),
	)

	d.Run()
	t.Cleanup(d.Stop)

	waitForSignal(t, d, signalReady, 2*time.Second)
	sig := waitForSignal(t, d, signalSourceDown, 2*time.Second)
	if sig.err == nil {
		t.Error("expected a non-nil error on the source_down signal")
	}
}

// scenario 4 (hot-reconfig rejection) is exercised at the Supervisor level
// in supervisor_test.go, since the rejection is a control-plane invariant
// independent of the Driver's run loop.

// scenario 5: post-roll extension — a fresh caught detection mid-ALERTING
// resets the idle counter; the stepper below encodes exactly that shape
// (catch at frame 2, idle 3..7, a fresh catch at 8, then idle again),
// asserting the clip only finalises once, after the *second* idle run.
func TestDriverScenarioPostRollExtension(t *testing.T) {
	requireFFmpeg(t)

	clipDir := filepath.Join(os.TempDir(), "videoguard-clips-test-postroll")
	if err := os.MkdirAll(filepath.Join(clipDir, "intrusion_detection", "cam-postroll"), 0o755); err != nil {
		t.Fatalf("mkdir clip dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(clipDir) })

	frames := framesWithColor(16, color.Gray{Y: 200}, t)
	reader := &fakeReader{frames: frames}

	stepper := &fakeStepper{
		labels: []string{"person"},
		modeFor: func(i int) frame.Mode {
			switch i {
			case 2:
				return frame.ModeAlertStart
			case 8:
				return frame.ModeAlerting // the reset catch
			case 15:
				return frame.ModeAlertEnd
			default:
				if i > 2 && i < 15 {
					return frame.ModeAlerting
				}
				return frame.ModeNormal
			}
		},
	}

	sinks := newFakeSinks()
	d := NewDriver("cam-postroll", "intrusion_detection", Source{URL: "fake://cam"}, frame.IntrusionConfig{FPS: 15}, 8, 8, fakeDetect{}, sinks, nil, testLogger())
	d.clipDirOverride(clipDir)
	d.withTestDeps(
		func(url string, fps, width, height int) Reader { return reader },
		func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) { return stepper, nil },
		fakeClock(),
	)

	d.Run()
	t.Cleanup(d.Stop)

	waitForSignal(t, d, signalReady, 2*time.Second)

	deadline := time.After(3 * time.Second)
	for sinks.objectCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the clip to finalise, got %d objects", sinks.objectCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := sinks.eventCount(); got != 1 {
		t.Errorf("eventCount = %d, want exactly 1 start event (no duplicate clip on the reset catch)", got)
	}
}

// scenario 6: deletion under load — stopping the driver mid-clip must still
// let the in-flight clip finalise and its artifacts reach the sinks, not
// vanish as a torn file. runLoop only checks d.control between reads and
// fakeReader never blocks, so Stop may land before or after the reader runs
// out of frames; on either exit path the deferred clipAgent.Release() must
// finalise the open clip.
func TestDriverScenarioStopMidRecordingFinalisesClip(t *testing.T) {
	requireFFmpeg(t)

	clipDir := filepath.Join(os.TempDir(), "videoguard-clips-test-delete")
	if err := os.MkdirAll(filepath.Join(clipDir, "intrusion_detection", "cam-delete"), 0o755); err != nil {
		t.Fatalf("mkdir clip dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(clipDir) })

	frames := framesWithColor(5, color.Gray{Y: 30}, t)
	reader := &fakeReader{frames: frames}
	stepper := &fakeStepper{
		labels: []string{"person"},
		modeFor: func(i int) frame.Mode {
			if i == 0 {
				return frame.ModeAlertStart
			}
			return frame.ModeAlerting
		},
	}

	sinks := newFakeSinks()
	d := NewDriver("cam-delete", "intrusion_detection", Source{URL: "fake://cam"}, frame.IntrusionConfig{FPS: 15}, 8, 8, fakeDetect{}, sinks, nil, testLogger())
	d.clipDirOverride(clipDir)
	d.withTestDeps(
		func(url string, fps, width, height int) Reader { return reader },
		func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) { return stepper, nil },
		fakeClock(),
	)

	d.Run()
	t.Cleanup(d.Stop)

	waitForSignal(t, d, signalReady, 2*time.Second)

	deadline := time.After(2 * time.Second)
	for sinks.eventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the clip to start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Simulate a DELETE arriving while the analyzer is still recording: the
	// reader starves (no more frames, no EndOfVideoError yet isn't possible
	// here since fakeReader always terminates eventually) and Stop races the
	// read loop; either way the deferred clipAgent.Release() in runLoop must
	// still flush the open clip once the goroutine unwinds.
	d.Stop()

	deadline = time.After(2 * time.Second)
	for sinks.objectCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for partial clip artifacts to reach the sinks, got %d objects", sinks.objectCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
