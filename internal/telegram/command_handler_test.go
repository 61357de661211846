package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeSupervisor struct {
	ids      []string
	statuses map[string]SupervisorStatus
	startErr error
	stopErr  error
	started  []string
	stopped  []string
}

func (f *fakeSupervisor) ReadAll(ids []string) (map[string]SupervisorStatus, error) {
	out := make(map[string]SupervisorStatus, len(ids))
	for _, id := range ids {
		out[id] = f.statuses[id]
	}
	return out, nil
}

func (f *fakeSupervisor) ListIDs() []string { return f.ids }

func (f *fakeSupervisor) Start(ctx context.Context, id string) error {
	f.started = append(f.started, id)
	return f.startErr
}

func (f *fakeSupervisor) Stop(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

type fakeEventsStore struct {
	events []EventSummary
	err    error
}

func (f *fakeEventsStore) ListRecentEvents(ctx context.Context, limit int) ([]EventSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func newTestHandler(sup *fakeSupervisor, events *fakeEventsStore) *CommandHandler {
	bot := NewTelegramBot(Config{Enabled: true, BotToken: "t", ChatID: "1"})
	return NewCommandHandler(bot, sup, events)
}

func TestHandleStatus(t *testing.T) {
	sup := &fakeSupervisor{
		ids:      []string{"cam-1", "cam-2"},
		statuses: map[string]SupervisorStatus{"cam-1": "running", "cam-2": "stopped"},
	}
	ch := newTestHandler(sup, &fakeEventsStore{})

	out := ch.handleStatus()
	if !strings.Contains(out, "2 total") || !strings.Contains(out, "1 running") {
		t.Errorf("handleStatus() = %q, missing expected counts", out)
	}
}

func TestHandleAnalyzersEmpty(t *testing.T) {
	ch := newTestHandler(&fakeSupervisor{}, &fakeEventsStore{})
	out := ch.handleAnalyzers()
	if !strings.Contains(out, "No analyzers configured") {
		t.Errorf("handleAnalyzers() = %q, want empty-state message", out)
	}
}

func TestHandleAnalyzersListsSorted(t *testing.T) {
	sup := &fakeSupervisor{
		ids:      []string{"cam-b", "cam-a"},
		statuses: map[string]SupervisorStatus{"cam-a": "running", "cam-b": "stopped"},
	}
	ch := newTestHandler(sup, &fakeEventsStore{})
	out := ch.handleAnalyzers()

	aIdx := strings.Index(out, "cam-a")
	bIdx := strings.Index(out, "cam-b")
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		t.Errorf("expected cam-a before cam-b in sorted output, got %q", out)
	}
}

func TestHandleStartAnalyzerRequiresArg(t *testing.T) {
	ch := newTestHandler(&fakeSupervisor{}, &fakeEventsStore{})
	out := ch.handleStartAnalyzer(context.Background(), nil)
	if !strings.Contains(out, "Usage:") {
		t.Errorf("handleStartAnalyzer() with no args = %q, want usage message", out)
	}
}

func TestHandleStartAnalyzerSuccess(t *testing.T) {
	sup := &fakeSupervisor{}
	ch := newTestHandler(sup, &fakeEventsStore{})
	out := ch.handleStartAnalyzer(context.Background(), []string{"cam-1"})
	if !strings.Contains(out, "cam-1") || !strings.Contains(out, "starting") {
		t.Errorf("handleStartAnalyzer() = %q", out)
	}
	if len(sup.started) != 1 || sup.started[0] != "cam-1" {
		t.Errorf("Start not called with cam-1: %v", sup.started)
	}
}

func TestHandleStartAnalyzerPropagatesError(t *testing.T) {
	sup := &fakeSupervisor{startErr: errors.New("boom")}
	ch := newTestHandler(sup, &fakeEventsStore{})
	out := ch.handleStartAnalyzer(context.Background(), []string{"cam-1"})
	if !strings.Contains(out, "Failed to start") {
		t.Errorf("handleStartAnalyzer() = %q, want failure message", out)
	}
}

func TestHandleStopAnalyzerSuccess(t *testing.T) {
	sup := &fakeSupervisor{}
	ch := newTestHandler(sup, &fakeEventsStore{})
	out := ch.handleStopAnalyzer(context.Background(), []string{"cam-1"})
	if !strings.Contains(out, "stopped") {
		t.Errorf("handleStopAnalyzer() = %q", out)
	}
}

func TestHandleEventsEmpty(t *testing.T) {
	ch := newTestHandler(&fakeSupervisor{}, &fakeEventsStore{})
	out := ch.handleEvents(context.Background(), nil)
	if !strings.Contains(out, "No intrusion events recorded") {
		t.Errorf("handleEvents() = %q, want empty-state message", out)
	}
}

func TestHandleEventsWithData(t *testing.T) {
	events := &fakeEventsStore{events: []EventSummary{
		{AnalyzerID: "cam-1", Timestamp: time.Now(), Triggered: []string{"person"}},
	}}
	ch := newTestHandler(&fakeSupervisor{}, events)
	out := ch.handleEvents(context.Background(), nil)
	if !strings.Contains(out, "cam-1") || !strings.Contains(out, "person") {
		t.Errorf("handleEvents() = %q", out)
	}
}

func TestHandleEventsRespectsLimitArg(t *testing.T) {
	events := &fakeEventsStore{events: []EventSummary{
		{AnalyzerID: "cam-1"}, {AnalyzerID: "cam-2"}, {AnalyzerID: "cam-3"},
	}}
	ch := newTestHandler(&fakeSupervisor{}, events)
	out := ch.handleEvents(context.Background(), []string{"2"})
	if !strings.Contains(out, "last 2") {
		t.Errorf("handleEvents() = %q, want to honour the requested limit", out)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
		{25 * time.Hour, "1d 1h 0m"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
