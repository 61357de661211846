package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"videoguard/internal/analyzererr"
	"videoguard/internal/frame"
)

// fakeSupervisorStore is an in-memory Store, mirroring the fakeStore used by
// internal/controlplane's dispatcher tests.
type fakeSupervisorStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newFakeSupervisorStore() *fakeSupervisorStore {
	return &fakeSupervisorStore{recs: make(map[string]Record)}
}

func (s *fakeSupervisorStore) ListAnalyzers(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeSupervisorStore) SaveAnalyzer(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *fakeSupervisorStore) UpdateAnalyzerStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok {
		rec.Status = status
		s.recs[id] = rec
	}
	return nil
}

func (s *fakeSupervisorStore) DeleteAnalyzer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

// scenario 4: CREATE then UPDATE name while RUNNING/STARTING must be
// rejected, message verbatim, with the record left unmutated.
func TestSupervisorHotReconfigRejectsUpdateWhileStarting(t *testing.T) {
	ctx := context.Background()
	store := newFakeSupervisorStore()

	sup, err := NewSupervisor(ctx, store, nil, newFakeSinks(), nil, testLogger(), 640, 480)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	rec := Record{
		ID:     "cam-hotreconfig",
		Name:   "original-name",
		Source: Source{URL: "fake://unreachable"},
		Pipelines: []PipelineSpec{{
			Type: "IntrusionDetection",
			Params: IntrusionPipelineParams{
				ROI:      []frame.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
				Triggers: []string{"person"},
			},
		}},
	}
	if err := sup.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = sup.Stop(ctx, rec.ID) })

	status, err := sup.Read(rec.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status != StatusStarting && status != StatusRunning {
		t.Fatalf("status = %v, want starting or running immediately after Create", status)
	}

	newName := "renamed"
	err = sup.Update(ctx, rec.ID, &newName, nil, nil)
	if err == nil {
		t.Fatal("expected Update to be rejected while starting/running")
	}
	if !errors.Is(err, analyzererr.ErrHotReconfiguration) {
		t.Errorf("err = %v, want analyzererr.ErrHotReconfiguration", err)
	}
	if err.Error() != "Hot re-configuring analyzer is not allowed, please stop analyzer first before updating it." {
		t.Errorf("err message = %q", err.Error())
	}

	store.mu.Lock()
	got := store.recs[rec.ID].Name
	store.mu.Unlock()
	if got != "original-name" {
		t.Errorf("analyzer name = %q, want unchanged %q", got, "original-name")
	}
}

func TestSupervisorUpdateAllowedWhileStopped(t *testing.T) {
	ctx := context.Background()
	store := newFakeSupervisorStore()

	sup, err := NewSupervisor(ctx, store, nil, newFakeSinks(), nil, testLogger(), 640, 480)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	rec := Record{
		ID:     "cam-stopped",
		Name:   "original-name",
		Source: Source{URL: "fake://unreachable"},
		Pipelines: []PipelineSpec{{
			Type: "IntrusionDetection",
			Params: IntrusionPipelineParams{
				ROI: []frame.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
			},
		}},
	}
	if err := sup.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sup.Stop(ctx, rec.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	newName := "renamed"
	if err := sup.Update(ctx, rec.ID, &newName, nil, nil); err != nil {
		t.Fatalf("Update while stopped should succeed, got %v", err)
	}

	store.mu.Lock()
	got := store.recs[rec.ID].Name
	store.mu.Unlock()
	if got != "renamed" {
		t.Errorf("analyzer name = %q, want %q", got, "renamed")
	}
}
