// Package notify is the C9 notification bus: analyzer lifecycle events are
// published as JSON over NATS, the teacher's choice of message bus
// generalised from camera/detection events to analyzer events. It also
// exposes the control-plane's NATS request/reply transport, since both
// share one connection.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"videoguard/internal/analyzer"
	"videoguard/internal/config"
)

// eventContent is the "content" object of a published notification message.
type eventContent struct {
	Video     string   `json:"video"`
	Metadata  string   `json:"metadata"`
	Thumbnail string   `json:"thumbnail"`
	Triggered []string `json:"triggered"`
}

// eventMessage mirrors the original's notification envelope shape.
type eventMessage struct {
	AnalyzerID string       `json:"analyzerId"`
	Timestamp  int64        `json:"timestamp"`
	Date       string       `json:"date"`
	Type       string       `json:"type"`
	Content    eventContent `json:"content"`
}

type envelope struct {
	Category string       `json:"category"`
	Message  eventMessage `json:"message"`
}

// Bus publishes analyzer events and answers control-plane requests over a
// single NATS connection.
type Bus struct {
	nc             *nats.Conn
	notifySubject  string
	controlSubject string
}

// Connect dials NATS, grounded on the teacher's dial-with-reconnect pattern
// used for its detection gRPC client, adapted here to nats.go's own
// automatic-reconnect options instead of a manual retry loop.
func Connect(cfg config.NotifyConfig) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", cfg.URL, err)
	}
	return &Bus{nc: nc, notifySubject: cfg.NotifySubject, controlSubject: cfg.ControlSubject}, nil
}

// Close closes the connection without draining pending messages.
func (b *Bus) Close() { b.nc.Close() }

// PublishEvent implements the notification half of analyzer.Sinks.
func (b *Bus) PublishEvent(ctx context.Context, ev analyzer.NotifyEvent) error {
	msg := envelope{
		Category: "Analyzer",
		Message: eventMessage{
			AnalyzerID: ev.AnalyzerID,
			Timestamp:  ev.Timestamp.UnixMilli(),
			Date:       ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Type:       "intrusion_detection.alert",
			Content: eventContent{
				Video:     ev.Video,
				Metadata:  ev.Metadata,
				Thumbnail: ev.Thumbnail,
				Triggered: ev.Triggered,
			},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := b.nc.Publish(b.notifySubject, data); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Subscribe registers handler as the control-plane request/reply endpoint,
// matching the original's NATS-based RPC surface for CREATE/READ/UPDATE/
// DELETE/START/STOP commands.
func (b *Bus) Subscribe(handler func(ctx context.Context, data []byte) ([]byte, error)) (*nats.Subscription, error) {
	return b.nc.Subscribe(b.controlSubject, func(msg *nats.Msg) {
		resp, err := handler(context.Background(), msg.Data)
		if err != nil {
			resp, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		if msg.Reply != "" {
			_ = b.nc.Publish(msg.Reply, resp)
		}
	})
}
