package analyzer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"videoguard/internal/analyzererr"
	"videoguard/internal/detectclient"
	"videoguard/internal/frame"
)

const (
	pollInterval       = 1 * time.Second
	startingTimeoutTicks = 20
)

// Store is the persistence interface the Supervisor reloads analyzer
// records from/to, implemented by internal/store. Generalises the teacher's
// loadCamerasFromDB to the analyzer registry.
type Store interface {
	ListAnalyzers(ctx context.Context) ([]Record, error)
	SaveAnalyzer(ctx context.Context, rec Record) error
	UpdateAnalyzerStatus(ctx context.Context, id string, status Status) error
	DeleteAnalyzer(ctx context.Context, id string) error
}

type entry struct {
	mu       sync.Mutex
	record   Record
	driver   *Driver
	status   Status
	wait     int
	stopPoll chan struct{}
}

// Supervisor owns every analyzer's lifecycle, status FSM, and control-plane
// operations, grounded on the teacher's CameraManager registry generalised
// from a fixed camera list to the full CREATED/STARTING/RUNNING/SOURCE_DOWN/
// STOPPED FSM named in SPEC_FULL.md §4.8.
type Supervisor struct {
	mu        sync.RWMutex
	analyzers map[string]*entry

	store    Store
	detector *detectclient.Client
	sinks    Sinks
	preview  Preview
	logger   *log.Logger

	width, height int
}

// NewSupervisor constructs a Supervisor and loads existing analyzer
// records from store, matching the teacher's NewCameraManager startup load.
// preview may be nil to disable live-preview broadcasting.
func NewSupervisor(ctx context.Context, store Store, detector *detectclient.Client, sinks Sinks, preview Preview, logger *log.Logger, width, height int) (*Supervisor, error) {
	s := &Supervisor{
		analyzers: make(map[string]*entry),
		store:     store,
		detector:  detector,
		sinks:     sinks,
		preview:   preview,
		logger:    logger,
		width:     width,
		height:    height,
	}

	records, err := store.ListAnalyzers(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load analyzers: %w", err)
	}
	for _, rec := range records {
		s.analyzers[rec.ID] = &entry{record: rec, status: StatusStopped}
	}

	return s, nil
}

// Create registers a new analyzer and starts it, matching AnalyzerManager.on_create.
func (s *Supervisor) Create(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return analyzererr.NewValidationError("analyzer id must not be empty")
	}
	for _, p := range rec.Pipelines {
		if p.Type != "IntrusionDetection" {
			return analyzererr.NewValidationError("unknown pipeline type %q", p.Type)
		}
		if len(p.Params.ROI) < 3 {
			return analyzererr.NewValidationError("roi must have at least 3 points")
		}
	}

	s.mu.Lock()
	if _, exists := s.analyzers[rec.ID]; exists {
		s.mu.Unlock()
		return analyzererr.NewValidationError("analyzer %q already exists", rec.ID)
	}
	rec.Status = StatusCreated
	e := &entry{record: rec, status: StatusCreated}
	s.analyzers[rec.ID] = e
	s.mu.Unlock()

	if err := s.store.SaveAnalyzer(ctx, rec); err != nil {
		return analyzererr.NewSinkError("store", err)
	}

	return s.Start(ctx, rec.ID)
}

// Read returns the status of a single analyzer, or ValidationError if unknown.
func (s *Supervisor) Read(id string) (Status, error) {
	s.mu.RLock()
	e, ok := s.analyzers[id]
	s.mu.RUnlock()
	if !ok {
		return "", analyzererr.NewValidationError("analyzer not found: %s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

// ListIDs returns every registered analyzer id, used by the Telegram
// command handler.
func (s *Supervisor) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.analyzers))
	for id := range s.analyzers {
		ids = append(ids, id)
	}
	return ids
}

// ReadAll returns the status of every listed id.
func (s *Supervisor) ReadAll(ids []string) (map[string]Status, error) {
	out := make(map[string]Status, len(ids))
	for _, id := range ids {
		st, err := s.Read(id)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// Update reconfigures name/source/pipelines, refusing while RUNNING/STARTING.
func (s *Supervisor) Update(ctx context.Context, id string, name *string, source *Source, pipelines *[]PipelineSpec) error {
	s.mu.RLock()
	e, ok := s.analyzers[id]
	s.mu.RUnlock()
	if !ok {
		return analyzererr.NewValidationError("analyzer not found: %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning || e.status == StatusStarting {
		return analyzererr.ErrHotReconfiguration
	}

	if name != nil {
		e.record.Name = *name
	}
	if source != nil {
		e.record.Source = *source
	}
	if pipelines != nil {
		e.record.Pipelines = *pipelines
	}

	return s.store.SaveAnalyzer(ctx, e.record)
}

// Delete stops and unregisters an analyzer.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.analyzers[id]
	if ok {
		delete(s.analyzers, id)
	}
	s.mu.Unlock()
	if !ok {
		return analyzererr.NewValidationError("analyzer not found: %s", id)
	}

	s.stopEntry(e)
	return s.store.DeleteAnalyzer(ctx, id)
}

// Start starts (or restarts) an analyzer's Driver if not already running.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.RLock()
	e, ok := s.analyzers[id]
	s.mu.RUnlock()
	if !ok {
		return analyzererr.NewValidationError("analyzer not found: %s", id)
	}

	e.mu.Lock()
	if e.status == StatusRunning || e.status == StatusStarting {
		e.mu.Unlock()
		return nil
	}

	// A restart from SOURCE_DOWN finds a still-running poller from the
	// previous Start() call; stop it before installing a new one so it
	// doesn't keep reading this entry's (now-replaced) driver status
	// channel alongside the poller we're about to spawn.
	if e.stopPoll != nil {
		close(e.stopPoll)
	}

	cfg := pipelineConfig(e.record.Pipelines)
	driver := NewDriver(e.record.ID, "intrusion_detection", e.record.Source, cfg, s.width, s.height, s.detector, s.sinks, s.preview, s.logger)
	e.driver = driver
	e.status = StatusStarting
	e.wait = startingTimeoutTicks
	e.stopPoll = make(chan struct{})
	e.mu.Unlock()

	driver.Run()
	go s.poll(e)

	return s.store.UpdateAnalyzerStatus(ctx, id, StatusStarting)
}

// Stop stops a running or starting analyzer.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.RLock()
	e, ok := s.analyzers[id]
	s.mu.RUnlock()
	if !ok {
		return analyzererr.NewValidationError("analyzer not found: %s", id)
	}
	s.stopEntry(e)
	return s.store.UpdateAnalyzerStatus(ctx, id, StatusStopped)
}

func (s *Supervisor) stopEntry(e *entry) {
	e.mu.Lock()
	wasActive := e.status == StatusRunning || e.status == StatusStarting
	driver := e.driver
	stopPoll := e.stopPoll
	e.stopPoll = nil
	e.status = StatusStopped
	e.mu.Unlock()

	if wasActive && driver != nil {
		driver.Stop()
	}
	if stopPoll != nil {
		close(stopPoll)
	}
}

// poll runs the 1Hz status poller for one analyzer, grounded on the
// original's AsyncTimer-driven _refresh_driver_status.
func (s *Supervisor) poll(e *entry) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	e.mu.Lock()
	stopCh := e.stopPoll
	e.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-e.driver.Status():
			if !ok {
				return
			}
			s.handleSignal(e, sig)
		case <-ticker.C:
			s.tick(e)
		}
	}
}

func (s *Supervisor) handleSignal(e *entry, sig driverSignal) {
	e.mu.Lock()
	var stopPoll chan struct{}
	switch sig.kind {
	case signalReady:
		if e.status == StatusStarting {
			e.status = StatusRunning
		}
	case signalSourceDown:
		e.status = StatusSourceDown
	case signalInternalError:
		e.status = StatusStopped
		stopPoll = e.stopPoll
		e.stopPoll = nil
	}
	e.mu.Unlock()

	if stopPoll != nil {
		close(stopPoll)
	}
}

func (s *Supervisor) tick(e *entry) {
	e.mu.Lock()
	status := e.status
	if status == StatusStarting {
		e.wait--
		if e.wait <= 0 {
			e.status = StatusSourceDown
			status = StatusSourceDown
		}
	}
	e.mu.Unlock()

	if status == StatusSourceDown {
		e.mu.Lock()
		id := e.record.ID
		e.mu.Unlock()
		_ = s.Start(context.Background(), id)
	}
}

func pipelineConfig(pipelines []PipelineSpec) frame.IntrusionConfig {
	cfg := frame.IntrusionConfig{
		DetectThreshold: 0.25,
		FPS:             defaultFPS,
		HistorySeconds:  3,
		PostRollSeconds: 3,
	}
	for _, p := range pipelines {
		if p.Type != "IntrusionDetection" {
			continue
		}
		cfg.ROI = frame.ROI(p.Params.ROI)
		cfg.Triggers = make(map[string]bool, len(p.Params.Triggers))
		for _, t := range p.Params.Triggers {
			cfg.Triggers[t] = true
		}
	}
	return cfg
}
