// Package analyzer implements the Analyzer Driver (C7) and Analyzer
// Supervisor (C8): the per-analyzer worker loop gluing Reader→Motion→
// Detect→IntrusionDetector→EventClipAgent together, and the registry that
// owns every analyzer's lifecycle and status FSM.
//
// Grounded on the original's analyzer.py (Driver/Analyzer/AnalyzerManager)
// and the teacher's CameraManager (map+sync.RWMutex, load-from-DB-on-start).
package analyzer

import (
	"time"

	"videoguard/internal/frame"
)

// Status is the Supervisor's per-analyzer FSM state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusSourceDown Status = "source_down"
	StatusStopped    Status = "stopped"
)

// Source identifies the video source for an analyzer.
type Source struct {
	URL string `json:"url"`
}

// PipelineSpec is one pipeline attached to an analyzer; only
// "IntrusionDetection" is implemented.
type PipelineSpec struct {
	Type   string               `json:"type"`
	Params IntrusionPipelineParams `json:"params"`
}

// IntrusionPipelineParams is the params object for an IntrusionDetection
// pipeline spec.
type IntrusionPipelineParams struct {
	ROI      []frame.Point `json:"roi"`
	Triggers []string      `json:"triggers"`
}

// Record is the durable, user-facing description of one analyzer.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Source    Source         `json:"source"`
	Pipelines []PipelineSpec `json:"pipelines"`
	Status    Status         `json:"status"`
}

// driverSignal is one of the three messages a Driver goroutine sends to its
// Supervisor-side controller: ready, source_down, internal_error.
type driverSignal struct {
	kind driverSignalKind
	err  error
	at   time.Time
}

type driverSignalKind int

const (
	signalReady driverSignalKind = iota
	signalSourceDown
	signalInternalError
)

// driverCmd is the sole command a Supervisor can send a running Driver.
type driverCmd int

const (
	cmdStop driverCmd = iota
)
