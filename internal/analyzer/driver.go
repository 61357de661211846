package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"videoguard/internal/analyzererr"
	"videoguard/internal/eventclip"
	"videoguard/internal/frame"
	"videoguard/internal/intrusion"
	"videoguard/internal/motion"
	"videoguard/internal/streamio"
	"videoguard/internal/ws"
)

const (
	readBatchSize   = 5
	readerOpenTimeout = 10 * time.Second
	defaultFPS        = 15
	labelsFilePath    = "coco.labels"
	defaultClipDir    = "/tmp/videoguard-clips"
)

// NotifyEvent is the payload handed to Sinks.PublishEvent, mirroring the
// original's notification message shape.
type NotifyEvent struct {
	AnalyzerID string
	Timestamp  time.Time
	Video      string
	Metadata   string
	Thumbnail  string
	Triggered  []string
}

// Sinks is everything the Driver publishes to (C9): the notification/DB bus
// and the object store. Implemented by internal/notify and
// internal/objectstore respectively; the Driver never blocks the analyzer
// loop on a sink call failing, per the SinkError handling rule.
type Sinks interface {
	PublishEvent(ctx context.Context, ev NotifyEvent) error
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Preview is the live-preview fan-out (internal/ws) an analyzer broadcasts
// its annotated frames to. Optional: a nil Preview means the Driver simply
// skips broadcasting.
type Preview interface {
	BroadcastDetection(analyzerID string, msg *ws.DetectionMessage)
}

// Reader is the frame source the Driver consumes, satisfied by
// *streamio.Reader. Abstracted as an interface so scenario tests can drive
// the Driver's loop with a fake source instead of a real ffmpeg subprocess.
type Reader interface {
	Open(timeout time.Duration) error
	Read(ctx context.Context, batchSize int) ([]frame.Frame, error)
	Release()
}

// IntrusionStepper is the per-batch intrusion FSM step, satisfied by
// *intrusion.Detector.
type IntrusionStepper interface {
	Step(width, height int, batch frame.Batch, motionResult frame.MotionResult, dets []frame.ImageDetections) []frame.AnnotatedFrame
}

// Detect is the detection dispatch a Driver submits motion-kept frames to,
// satisfied by *detectclient.Client.
type Detect interface {
	Detect(ctx context.Context, images [][]byte) ([]frame.ImageDetections, error)
}

// Driver runs one analyzer's capture→motion→detect→intrusion→clip pipeline
// in a dedicated goroutine, isolated from the Supervisor's own loop by a
// recover()-wrapped panic boundary — the nearest in-process analogue to the
// original's subprocess isolation available without re-exec'ing a second Go
// binary per analyzer (see SPEC_FULL.md §4.7 / DESIGN.md).
type Driver struct {
	id       string
	pipeline string
	source   Source
	cfg      frame.IntrusionConfig
	width    int
	height   int

	detector Detect
	sinks    Sinks
	preview  Preview
	logger   *log.Logger

	control chan driverCmd
	status  chan driverSignal

	// newReader/newDetector/now are test seams: NewDriver wires them to the
	// real streamio/intrusion constructors and the system clock; tests
	// override them to drive runLoop with fakes (see driver_test.go).
	newReader   func(url string, fps, width, height int) Reader
	newDetector func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error)
	now         func() time.Time

	// clipDir is where the event clip agent writes local .mp4 files before
	// they're uploaded and removed; overridable by tests via clipDirOverride.
	clipDir string
}

// NewDriver constructs a Driver for one analyzer. width/height are the
// frame dimensions used for ROI unnormalisation and clip encoding. preview
// may be nil to disable live-preview broadcasting.
func NewDriver(id, pipeline string, source Source, cfg frame.IntrusionConfig, width, height int, detector Detect, sinks Sinks, preview Preview, logger *log.Logger) *Driver {
	return &Driver{
		id:       id,
		pipeline: pipeline,
		source:   source,
		cfg:      cfg,
		width:    width,
		height:   height,
		detector: detector,
		sinks:    sinks,
		preview:  preview,
		logger:   logger,
		control:  make(chan driverCmd, 1),
		status:   make(chan driverSignal, 4),
		newReader: func(url string, fps, width, height int) Reader {
			return streamio.NewReader(url, fps, width, height, 64)
		},
		newDetector: func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error) {
			return intrusion.NewDetector(cfg, labelsPath)
		},
		now:     time.Now,
		clipDir: defaultClipDir,
	}
}

// withTestDeps overrides the reader/detector constructors and clock;
// unexported since it exists solely for this package's own scenario tests.
func (d *Driver) withTestDeps(newReader func(url string, fps, width, height int) Reader, newDetector func(cfg frame.IntrusionConfig, labelsPath string) (IntrusionStepper, error), now func() time.Time) *Driver {
	d.newReader = newReader
	d.newDetector = newDetector
	d.now = now
	return d
}

// clipDirOverride overrides the local clip-writing directory; unexported
// since it exists solely for this package's own scenario tests.
func (d *Driver) clipDirOverride(dir string) *Driver {
	d.clipDir = dir
	return d
}

// Run launches the Driver's goroutine. Status returns the channel on which
// the Supervisor receives ready/source_down/internal_error signals. Stop
// sends the sole "stop" command.
func (d *Driver) Run() {
	go d.runLoop()
}

// Status returns the channel the Supervisor polls for driver signals.
func (d *Driver) Status() <-chan driverSignal { return d.status }

// Stop requests the Driver terminate at the top of its next loop iteration.
func (d *Driver) Stop() {
	select {
	case d.control <- cmdStop:
	default:
	}
}

func (d *Driver) runLoop() {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("driver %s: recovered panic: %v", d.id, r)
			d.status <- driverSignal{kind: signalInternalError, err: fmt.Errorf("panic: %v", r), at: d.now()}
		}
	}()

	fps := d.cfg.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	reader := d.newReader(d.source.URL, fps, d.width, d.height)
	if err := reader.Open(readerOpenTimeout); err != nil {
		d.logger.Printf("driver %s: source open failed: %v", d.id, err)
		d.status <- driverSignal{kind: signalSourceDown, err: err, at: d.now()}
		return
	}

	motionFilter := motion.NewFilter(80)

	det, err := d.newDetector(d.cfg, labelsFilePath)
	if err != nil {
		d.logger.Printf("driver %s: labels load failed: %v", d.id, err)
		d.status <- driverSignal{kind: signalInternalError, err: err, at: d.now()}
		reader.Release()
		return
	}

	clipAgent := eventclip.New(d.pipeline, d.id, eventclip.ModePolicy{}, d.cfg, fps, d.width, d.height, d.clipDir,
		func(localPath string, fps, w, h int) (*streamio.Writer, error) {
			return streamio.Open(localPath, fps, w, h)
		})

	defer func() {
		reader.Release()
		if err := clipAgent.Release(); err != nil {
			d.logger.Printf("driver %s: clip agent release: %v", d.id, err)
		}
	}()

	d.status <- driverSignal{kind: signalReady, at: d.now()}

	ctx := context.Background()

	for {
		select {
		case cmd := <-d.control:
			if cmd == cmdStop {
				return
			}
		default:
		}

		batch, err := reader.Read(ctx, readBatchSize)
		if err != nil {
			if errors.Is(err, analyzererr.EndOfVideoError) {
				d.logger.Printf("driver %s: end of video", d.id)
				// internal_error is the only signal that moves the
				// Supervisor to STOPPED without an automatic restart.
				d.status <- driverSignal{kind: signalInternalError, err: err, at: d.now()}
				return
			}
			var connErr *analyzererr.ConnectionError
			if errors.As(err, &connErr) {
				d.status <- driverSignal{kind: signalSourceDown, err: err, at: d.now()}
				return
			}
			d.logger.Printf("driver %s: read error: %v", d.id, err)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		motionResult, err := motionFilter.Apply(frame.Batch(batch))
		if err != nil {
			d.logger.Printf("driver %s: motion filter error: %v", d.id, err)
			continue
		}

		images := make([][]byte, len(motionResult.Frames))
		for i, f := range motionResult.Frames {
			images[i] = f.Image
		}

		var dets []frame.ImageDetections
		if len(images) > 0 {
			dets, err = d.detector.Detect(ctx, images)
			if err != nil {
				d.logger.Printf("driver %s: detect error: %v", d.id, err)
				dets = make([]frame.ImageDetections, len(images))
			}
		}

		annotated := det.Step(d.width, d.height, frame.Batch(batch), motionResult, dets)

		for _, af := range annotated {
			d.broadcastPreview(af)

			ev, done, err := clipAgent.Process(af)
			if err != nil {
				d.logger.Printf("driver %s: clip agent error: %v", d.id, err)
				continue
			}
			if ev != nil {
				d.publishStart(ctx, ev)
			}
			if done != nil {
				d.publishCompleted(ctx, done)
			}
		}
	}
}

func (d *Driver) broadcastPreview(af frame.AnnotatedFrame) {
	if d.preview == nil {
		return
	}
	msg := ws.NewDetectionMessage(d.id, d.width, d.height, string(af.Mode))
	for i, label := range af.Labels {
		bb := af.BBoxes[i]
		x := bb.X1 * float64(d.width)
		y := bb.Y1 * float64(d.height)
		w := (bb.X2 - bb.X1) * float64(d.width)
		h := (bb.Y2 - bb.Y1) * float64(d.height)
		msg.AddObject(label, float32(af.Scores[i]), []float32{float32(x), float32(y), float32(w), float32(h)}, d.cfg.Triggers[label])
	}
	d.preview.BroadcastDetection(d.id, msg)
}

func (d *Driver) publishStart(ctx context.Context, ev *eventclip.Event) {
	go func() {
		if err := d.sinks.PublishEvent(ctx, NotifyEvent{
			AnalyzerID: d.id,
			Timestamp:  ev.Timestamp,
			Video:      ev.VideoKey,
			Metadata:   ev.MetadataKey,
			Thumbnail:  ev.ThumbKey,
			Triggered:  ev.Triggered,
		}); err != nil {
			d.logger.Printf("driver %s: sink error: %v", d.id, analyzererr.NewSinkError("notify", err))
		}
	}()
}

func (d *Driver) publishCompleted(ctx context.Context, done *eventclip.Completed) {
	go func() {
		if err := d.sinks.PutObject(ctx, done.MetadataKey, done.MetadataJSON, "application/json"); err != nil {
			d.logger.Printf("driver %s: sink error: %v", d.id, analyzererr.NewSinkError("objectstore", err))
		}
		if done.Thumbnail != nil {
			if err := d.sinks.PutObject(ctx, done.ThumbKey, done.Thumbnail, "image/jpeg"); err != nil {
				d.logger.Printf("driver %s: sink error: %v", d.id, analyzererr.NewSinkError("objectstore", err))
			}
		}
		if data, err := os.ReadFile(done.LocalVideoPath); err != nil {
			d.logger.Printf("driver %s: sink error: %v", d.id, analyzererr.NewSinkError("objectstore", err))
		} else {
			if err := d.sinks.PutObject(ctx, done.VideoKey, data, "video/mp4"); err != nil {
				d.logger.Printf("driver %s: sink error: %v", d.id, analyzererr.NewSinkError("objectstore", err))
			}
			_ = os.Remove(done.LocalVideoPath)
		}
	}()
}
