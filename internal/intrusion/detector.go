// Package intrusion implements the Intrusion Detector (C5): a per-analyzer
// finite state machine that decides, from a batch of detections matched
// against a region of interest, whether an intrusion is in progress, and
// emits an AnnotatedFrame per input frame.
package intrusion

import (
	"videoguard/internal/frame"
)

// Detector holds the FSM state for one analyzer's IntrusionDetection
// pipeline, grounded on the original's IntrusionDetector.run/_check_intrusion
// and generalised to the 4-state ALERT_START/ALERTING/ALERT_END machine
// named in the specification (the original only modelled 3 states; the
// fourth, ALERT_END, is this port's addition for the post-roll countdown).
type Detector struct {
	cfg    frame.IntrusionConfig
	labels map[int]string

	mode         frame.Mode
	postRollIdle int

	roiCache      frame.ROI
	roiCacheW     int
	roiCacheH     int
}

// NewDetector constructs a Detector for one analyzer's ROI/trigger config,
// loading class labels once at construction as the original does.
func NewDetector(cfg frame.IntrusionConfig, labelsPath string) (*Detector, error) {
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	return &Detector{
		cfg:    cfg,
		labels: labels,
		mode:   frame.ModeNormal,
	}, nil
}

// matched is one detection that passed threshold/trigger/ROI checks.
type matched struct {
	label string
	bbox  frame.BBox
	score float64
}

// checkFrame classifies every detection against threshold, trigger set, and
// ROI intersection, mirroring _check_intrusion. Detections whose class id
// is absent from the labels file are skipped silently (unknown-class tie-break).
func (d *Detector) checkFrame(width, height int, dets []frame.Detection) []matched {
	roi := d.unnormalizedROI(width, height)

	var out []matched
	for _, det := range dets {
		if det.Score < d.cfg.DetectThreshold {
			continue
		}
		label, ok := d.labels[det.ClassID]
		if !ok {
			continue
		}
		if !d.cfg.Triggers[label] {
			continue
		}

		x1 := det.BBox.X1 * float64(width)
		y1 := det.BBox.Y1 * float64(height)
		x2 := det.BBox.X2 * float64(width)
		y2 := det.BBox.Y2 * float64(height)

		if overlapArea(roi, x1, y1, x2, y2) <= 0 {
			continue
		}

		out = append(out, matched{label: label, bbox: det.BBox, score: det.Score})
	}
	return out
}

// unnormalizedROI multiplies the configured [0,1]-normalised ROI by (W,H),
// per SPEC_FULL.md's ROI glossary entry, so it lands in the same pixel space
// as the scaled detection boxes above. Cached per width/height pair since
// these are fixed for the lifetime of an analyzer.
func (d *Detector) unnormalizedROI(width, height int) frame.ROI {
	if d.roiCache != nil && d.roiCacheW == width && d.roiCacheH == height {
		return d.roiCache
	}
	roi := make(frame.ROI, len(d.cfg.ROI))
	for i, p := range d.cfg.ROI {
		roi[i] = frame.Point{X: p.X * float64(width), Y: p.Y * float64(height)}
	}
	d.roiCache, d.roiCacheW, d.roiCacheH = roi, width, height
	return roi
}

// Step advances the FSM for one batch: batch is the full input batch from
// the Reader, motion is the subset the motion filter kept, and dets is
// positionally aligned with motion.Frames. It returns one AnnotatedFrame per
// frame in batch, in input order — frames the motion filter skipped carry
// only the current mode.
func (d *Detector) Step(width, height int, batch frame.Batch, motion frame.MotionResult, dets []frame.ImageDetections) []frame.AnnotatedFrame {
	motionIdx := make(map[int]int, len(motion.Index))
	for pos, origIdx := range motion.Index {
		motionIdx[origIdx] = pos
	}

	out := make([]frame.AnnotatedFrame, len(batch))

	for i, f := range batch {
		pos, hadMotion := motionIdx[i]
		var caught []matched
		if hadMotion && pos < len(dets) {
			caught = d.checkFrame(width, height, dets[pos].Detections)
		}

		d.advance(hadMotion, len(caught) > 0)

		af := frame.AnnotatedFrame{
			Frame:     f,
			Mode:      d.mode,
			HadMotion: hadMotion,
		}
		if hadMotion {
			for _, m := range caught {
				af.Labels = append(af.Labels, m.label)
				af.BBoxes = append(af.BBoxes, m.bbox)
				af.Scores = append(af.Scores, m.score)
			}
		}
		out[i] = af
	}

	return out
}

// advance applies one transition of the FSM described in SPEC_FULL.md §4.5.
// catchedThis is whether the current frame's detections matched; evaluated is
// whether the frame was even evaluated (motion filter skipped frames count
// as "not catched" idle steps).
func (d *Detector) advance(evaluated, catchedThis bool) {
	catched := evaluated && catchedThis

	switch d.mode {
	case frame.ModeNormal:
		if catched {
			d.mode = frame.ModeAlertStart
			d.postRollIdle = 0
		}
	case frame.ModeAlertStart:
		d.mode = frame.ModeAlerting
		d.postRollIdle = 0
	case frame.ModeAlerting:
		if catched {
			d.postRollIdle = 0
		} else {
			d.postRollIdle++
			if d.postRollIdle >= d.cfg.MaxPostRoll() {
				d.mode = frame.ModeAlertEnd
			}
		}
	case frame.ModeAlertEnd:
		if catched {
			d.mode = frame.ModeAlertStart
			d.postRollIdle = 0
		} else {
			d.mode = frame.ModeNormal
		}
	}
}

// Mode returns the detector's current FSM state.
func (d *Detector) Mode() frame.Mode { return d.mode }
