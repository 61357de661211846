package ws

import "time"

// DetectionMessage represents one annotated frame broadcast to live-preview
// subscribers of an analyzer, generalised from the teacher's per-camera
// object-detection message to the analyzer's intrusion-labelled frames.
type DetectionMessage struct {
	Type        string            `json:"type"` // "detection"
	AnalyzerID  string            `json:"analyzer_id"`
	Timestamp   time.Time         `json:"timestamp"`
	FrameWidth  int               `json:"frame_width"`
	FrameHeight int               `json:"frame_height"`
	Mode        string            `json:"mode"`
	Objects     []ObjectDetection `json:"objects"`
	Frame       string            `json:"frame,omitempty"` // Base64 encoded JPEG frame
}

// ObjectDetection represents a single detected object.
type ObjectDetection struct {
	Class      string    `json:"class"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x, y, w, h] in pixels
	Triggered  bool      `json:"triggered"`
}

// NewDetectionMessage creates a new detection message.
func NewDetectionMessage(analyzerID string, frameWidth, frameHeight int, mode string) *DetectionMessage {
	return &DetectionMessage{
		Type:        "detection",
		AnalyzerID:  analyzerID,
		Timestamp:   time.Now(),
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Mode:        mode,
		Objects:     make([]ObjectDetection, 0),
	}
}

// AddObject adds an object detection to the message.
func (m *DetectionMessage) AddObject(class string, confidence float32, bbox []float32, triggered bool) {
	m.Objects = append(m.Objects, ObjectDetection{
		Class:      class,
		Confidence: confidence,
		BBox:       bbox,
		Triggered:  triggered,
	})
}

// FrameMessage represents a video frame broadcast with no detections, for
// plain live-preview subscribers.
type FrameMessage struct {
	Type        string    `json:"type"` // "frame"
	AnalyzerID  string    `json:"analyzer_id"`
	Timestamp   time.Time `json:"timestamp"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Frame       string    `json:"frame"` // Base64 encoded JPEG frame
}

// NewFrameMessage creates a new frame message for live streaming.
func NewFrameMessage(analyzerID string, frameWidth, frameHeight int, frameBase64 string) *FrameMessage {
	return &FrameMessage{
		Type:        "frame",
		AnalyzerID:  analyzerID,
		Timestamp:   time.Now(),
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Frame:       frameBase64,
	}
}
