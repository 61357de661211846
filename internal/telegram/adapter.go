package telegram

import (
	"context"

	"videoguard/internal/analyzer"
	"videoguard/internal/store"
)

// SupervisorAdapter adapts *analyzer.Supervisor to the small Supervisor
// interface this package depends on, keeping command_handler.go's own
// import surface free of internal/analyzer.
type SupervisorAdapter struct {
	*analyzer.Supervisor
}

func (a SupervisorAdapter) ReadAll(ids []string) (map[string]SupervisorStatus, error) {
	statuses, err := a.Supervisor.ReadAll(ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SupervisorStatus, len(statuses))
	for id, st := range statuses {
		out[id] = SupervisorStatus(st)
	}
	return out, nil
}

// EventsAdapter adapts *store.Store to the EventsStore interface.
type EventsAdapter struct {
	*store.Store
}

func (a EventsAdapter) ListRecentEvents(ctx context.Context, limit int) ([]EventSummary, error) {
	recs, err := a.Store.ListRecentEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventSummary, len(recs))
	for i, r := range recs {
		out[i] = EventSummary{AnalyzerID: r.AnalyzerID, Timestamp: r.Timestamp, Triggered: r.Triggered}
	}
	return out, nil
}
