// Package frame holds the data types shared across the analyzer pipeline:
// captured frames, motion results, detections, regions of interest, and the
// annotated output the intrusion detector produces.
package frame

import "time"

// Frame is a single captured image. Immutable once captured; JPEG-encoded
// bytes stand in for the HxWx3 tensor, decoded on demand by stages that need
// pixels (the motion filter, the thumbnail/ROI overlay).
type Frame struct {
	Image     []byte
	Timestamp time.Time
	Width     int
	Height    int
}

// Batch is an ordered, capture-order sequence of Frame, never re-sorted.
type Batch []Frame

// MotionResult holds the frames a motion filter pass decided to keep, plus
// the index of each kept frame in the original input batch. Frames[0] is
// always the anchor (original batch index 0), regardless of motion.
type MotionResult struct {
	Frames []Frame
	Index  []int
}

// BBox is a bounding box in normalised [0,1] coordinates, stored yxyx to
// match the model output convention.
type BBox struct {
	Y1, X1, Y2, X2 float64
}

// Detection is a single per-image detection.
type Detection struct {
	BBox       BBox
	Score      float64
	ClassID    int
}

// ImageDetections holds every Detection produced for one image, positionally
// aligned with the image that was submitted to Detect.
type ImageDetections struct {
	Detections []Detection
}

// Point is a normalised ROI vertex, x,y each in [0,1].
type Point struct {
	X, Y float64
}

// ROI is a closed polygon of at least 3 normalised points.
type ROI []Point

// Mode is the intrusion-detector FSM state.
type Mode string

const (
	ModeNormal      Mode = "NORMAL"
	ModeAlertStart  Mode = "ALERT_START"
	ModeAlerting    Mode = "ALERTING"
	ModeAlertEnd    Mode = "ALERT_END"
)

// IntrusionConfig parameterises one IntrusionDetection pipeline instance.
type IntrusionConfig struct {
	ROI               ROI
	Triggers          map[string]bool
	DetectThreshold   float64
	FPS               int
	HistorySeconds    int
	PostRollSeconds   int
}

// MaxPostRoll is fps * post_roll_seconds, the idle-frame budget before a
// clip finalises.
func (c IntrusionConfig) MaxPostRoll() int {
	return c.FPS * c.PostRollSeconds
}

// HistoryFrames is history_seconds * fps, the pre-roll ring capacity.
func (c IntrusionConfig) HistoryFrames() int {
	return c.HistorySeconds * c.FPS
}

// AnnotatedFrame pairs a frame with the detector's current state and, when
// the frame had motion, the matching detections' labels/bboxes/scores.
type AnnotatedFrame struct {
	Frame    Frame
	Mode     Mode
	HadMotion bool
	Labels   []string
	BBoxes   []BBox
	Scores   []float64
}

// FrameMetadata is the per-frame record stored inside ClipMetadata.
type FrameMetadata struct {
	TimestampMs int64    `json:"timestamp_ms"`
	Mode        Mode     `json:"mode"`
	Labels      []string `json:"labels,omitempty"`
	BBoxes      []BBox   `json:"bboxes,omitempty"`
	Scores      []float64 `json:"scores,omitempty"`
}

// ClipMetadata is the JSON side-car written alongside an event clip.
type ClipMetadata struct {
	FPS       int             `json:"fps"`
	Start     int64           `json:"start"`
	End       int64           `json:"end"`
	EventName string          `json:"event_name"`
	Custom    ClipMetadataROI `json:"custom"`
	Frames    []FrameMetadata `json:"frames"`
}

// ClipMetadataROI is the custom.roi field of ClipMetadata.
type ClipMetadataROI struct {
	ROI ROI `json:"roi"`
}
