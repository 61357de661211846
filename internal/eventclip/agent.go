// Package eventclip implements the Event Clip Agent (C6): a per-analyzer
// recorder driven by the intrusion detector's FSM, grounded on the
// original's EventVideoAgent/EventVideoWriter (events.py) — generalised to
// the ALERT_START/ALERT_END mode-triggered policy this port's FSM produces.
package eventclip

import (
	"encoding/json"
	"fmt"
	"time"

	"videoguard/internal/analyzererr"
	"videoguard/internal/frame"
	"videoguard/internal/streamio"
)

// Action is the decision a Policy returns for one AnnotatedFrame.
type Action int

const (
	// ActionNone means append-to-writer-or-ignore per current state.
	ActionNone Action = iota
	ActionStartRecording
	ActionStopRecording
)

// Policy decides the recording action for one annotated frame. Kept as a
// small interface — per the original's abstract EventVideoPolicy — so other
// pipeline types could register their own start/stop semantics without
// touching the Agent.
type Policy interface {
	Compute(af frame.AnnotatedFrame) Action
}

// ModePolicy is the IntrusionDetection mapping: ALERT_START starts a clip,
// ALERT_END stops it.
type ModePolicy struct{}

func (ModePolicy) Compute(af frame.AnnotatedFrame) Action {
	switch af.Mode {
	case frame.ModeAlertStart:
		return ActionStartRecording
	case frame.ModeAlertEnd:
		return ActionStopRecording
	default:
		return ActionNone
	}
}

// Event is emitted by Agent.Process on ActionStartRecording.
type Event struct {
	VideoKey    string
	MetadataKey string
	ThumbKey    string
	Timestamp   time.Time
	Triggered   []string
}

// Completed is emitted by Agent.Process when a clip finishes (STOP), and
// carries everything the Driver needs to hand off to the object-store sink.
type Completed struct {
	VideoKey      string
	MetadataKey   string
	ThumbKey      string
	LocalVideoPath string
	MetadataJSON  []byte
	Thumbnail     []byte
}

// ClipOpener opens a Writer for a local file path; abstracted so tests can
// stub out the ffmpeg subprocess.
type ClipOpener func(localPath string, fps, width, height int) (*streamio.Writer, error)

// Agent records event clips for one analyzer, holding at most one open
// writer at a time (the agent's sole invariant).
type Agent struct {
	pipeline   string
	analyzerID string
	policy     Policy
	roi        frame.ROI
	fps        int
	width      int
	height     int
	localDir   string
	opener     ClipOpener

	history    []frame.AnnotatedFrame
	historyCap int

	writer    *streamio.Writer
	meta      *frame.ClipMetadata
	prefix    string
	localPath string
	thumb     []byte
	triggers  map[string]bool
}

// New constructs an Agent. The pre-roll ring capacity is
// cfg.HistoryFrames() (history_seconds * fps).
func New(pipeline, analyzerID string, policy Policy, cfg frame.IntrusionConfig, fps, width, height int, localDir string, opener ClipOpener) *Agent {
	return &Agent{
		pipeline:   pipeline,
		analyzerID: analyzerID,
		policy:     policy,
		roi:        cfg.ROI,
		fps:        fps,
		width:      width,
		height:     height,
		localDir:   localDir,
		opener:     opener,
		historyCap: cfg.HistoryFrames(),
	}
}

// Process advances the Agent by one AnnotatedFrame. Returns a non-nil Event
// when a clip has just started, and/or a non-nil Completed when a clip has
// just finished.
func (a *Agent) Process(af frame.AnnotatedFrame) (*Event, *Completed, error) {
	action := a.policy.Compute(af)

	if a.writer == nil {
		a.pushHistory(af)
		if action != ActionStartRecording {
			return nil, nil, nil
		}
		ev, err := a.start(af)
		return ev, nil, err
	}

	if err := a.append(af, false); err != nil {
		return nil, nil, err
	}
	if action == ActionStopRecording {
		done, err := a.finish()
		if err != nil {
			return nil, nil, err
		}
		return nil, done, nil
	}
	return nil, nil, nil
}

func (a *Agent) pushHistory(af frame.AnnotatedFrame) {
	a.history = append(a.history, af)
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
}

func (a *Agent) start(af frame.AnnotatedFrame) (*Event, error) {
	ts := af.Frame.Timestamp
	a.prefix = fmt.Sprintf("%s/%s/%d", a.pipeline, a.analyzerID, ts.UnixMilli())
	a.localPath = fmt.Sprintf("%s/%s.mp4", a.localDir, a.prefix)

	writer, err := a.opener(a.localPath, a.fps, a.width, a.height)
	if err != nil {
		return nil, analyzererr.NewClipWriterError(a.localPath, err)
	}
	a.writer = writer
	a.meta = &frame.ClipMetadata{
		FPS:       a.fps,
		Start:     ts.UnixMilli(),
		EventName: "intrusion_detection.alert",
		Custom:    frame.ClipMetadataROI{ROI: a.roi},
	}
	a.triggers = map[string]bool{}

	pending := a.history
	a.history = nil
	for i, hf := range pending {
		if err := a.append(hf, i == 0); err != nil {
			return nil, err
		}
	}
	if err := a.append(af, len(pending) == 0); err != nil {
		return nil, err
	}

	triggered := make([]string, 0, len(a.triggers))
	for label := range a.triggers {
		triggered = append(triggered, label)
	}

	return &Event{
		VideoKey:    a.prefix + ".mp4",
		MetadataKey: a.prefix + ".json",
		ThumbKey:    a.prefix + ".jpg",
		Timestamp:   ts,
		Triggered:   triggered,
	}, nil
}

func (a *Agent) append(af frame.AnnotatedFrame, captureThumb bool) error {
	a.writer.Write(af.Frame)
	if captureThumb && a.thumb == nil {
		a.thumb = renderThumbnail(af.Frame.Image, a.roi, af.Labels)
	}
	for _, l := range af.Labels {
		a.triggers[l] = true
	}
	a.meta.Frames = append(a.meta.Frames, frame.FrameMetadata{
		TimestampMs: af.Frame.Timestamp.UnixMilli(),
		Mode:        af.Mode,
		Labels:      af.Labels,
		BBoxes:      af.BBoxes,
		Scores:      af.Scores,
	})
	return nil
}

func (a *Agent) finish() (*Completed, error) {
	if len(a.meta.Frames) > 0 {
		a.meta.End = a.meta.Frames[len(a.meta.Frames)-1].TimestampMs
	}
	metaJSON, err := json.Marshal(a.meta)
	if err != nil {
		return nil, err
	}
	if err := a.writer.End(); err != nil {
		return nil, err
	}

	done := &Completed{
		VideoKey:       a.prefix + ".mp4",
		MetadataKey:    a.prefix + ".json",
		ThumbKey:       a.prefix + ".jpg",
		LocalVideoPath: a.localPath,
		MetadataJSON:   metaJSON,
		Thumbnail:      a.thumb,
	}

	a.writer = nil
	a.meta = nil
	a.thumb = nil
	a.triggers = nil
	return done, nil
}

// Release finalises any open clip and clears the pre-roll ring.
func (a *Agent) Release() error {
	if a.writer != nil {
		_, err := a.finish()
		return err
	}
	a.history = nil
	return nil
}
