// Package controlplane implements the analyzer CRUD + start/stop RPC
// surface (CREATE/READ/UPDATE/DELETE/START/STOP), exposed over both HTTP
// and NATS request/reply, generalised from the teacher's REST-only camera
// management API to the dual-transport control plane SPEC_FULL.md §6
// describes.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"

	"videoguard/internal/analyzer"
	"videoguard/internal/analyzererr"
)

// Command is the verb named in a control-plane request envelope.
type Command string

const (
	CommandCreate Command = "CREATE"
	CommandRead   Command = "READ"
	CommandUpdate Command = "UPDATE"
	CommandDelete Command = "DELETE"
	CommandStart  Command = "START"
	CommandStop   Command = "STOP"
)

// Request is the transport-agnostic control-plane envelope; both the HTTP
// handler and the NATS subscriber unmarshal into this shape.
type Request struct {
	Command   Command                 `json:"command"`
	ID        string                  `json:"id"`
	IDs       []string                `json:"ids"`
	Name      *string                 `json:"name,omitempty"`
	Source    *analyzer.Source        `json:"source,omitempty"`
	Pipelines *[]analyzer.PipelineSpec `json:"pipelines,omitempty"`
	Record    *analyzer.Record        `json:"record,omitempty"`
}

// Response is the transport-agnostic reply envelope.
type Response struct {
	OK       bool                    `json:"ok"`
	Error    string                  `json:"error,omitempty"`
	Record   *analyzer.Record        `json:"record,omitempty"`
	Status   analyzer.Status         `json:"status,omitempty"`
	Statuses map[string]analyzer.Status `json:"statuses,omitempty"`
}

// Dispatcher routes a Request to the Supervisor and builds a Response,
// shared verbatim by the HTTP and NATS transports.
type Dispatcher struct {
	supervisor *analyzer.Supervisor
}

// NewDispatcher constructs a Dispatcher bound to supervisor.
func NewDispatcher(supervisor *analyzer.Supervisor) *Dispatcher {
	return &Dispatcher{supervisor: supervisor}
}

// Handle executes req and returns the envelope the transport serialises.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	switch req.Command {
	case CommandCreate:
		if req.Record == nil {
			return errResponse(analyzererr.NewValidationError("create requires a record"))
		}
		if err := d.supervisor.Create(ctx, *req.Record); err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Record: req.Record}

	case CommandRead:
		if len(req.IDs) > 0 {
			statuses, err := d.supervisor.ReadAll(req.IDs)
			if err != nil {
				return errResponse(err)
			}
			return Response{OK: true, Statuses: statuses}
		}
		status, err := d.supervisor.Read(req.ID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Status: status}

	case CommandUpdate:
		if err := d.supervisor.Update(ctx, req.ID, req.Name, req.Source, req.Pipelines); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case CommandDelete:
		if err := d.supervisor.Delete(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case CommandStart:
		if err := d.supervisor.Start(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case CommandStop:
		if err := d.supervisor.Stop(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	default:
		return errResponse(analyzererr.NewValidationError("unknown command %q", req.Command))
	}
}

// HandleJSON decodes data into a Request, dispatches it, and re-encodes the
// Response — the shape both the HTTP body handler and NATS subscriber call.
func (d *Dispatcher) HandleJSON(ctx context.Context, data []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("controlplane: decode request: %w", err)
	}
	resp := d.Handle(ctx, req)
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("controlplane: encode response: %w", err)
	}
	return out, nil
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
