package controlplane

import (
	"github.com/nats-io/nats.go"

	"videoguard/internal/notify"
)

// SubscribeNATS registers the Dispatcher on the control subject of bus,
// giving remote callers a second transport alongside the HTTP handler —
// useful for services already wired onto the NATS bus for notifications.
func SubscribeNATS(d *Dispatcher, bus *notify.Bus) (*nats.Subscription, error) {
	return bus.Subscribe(d.HandleJSON)
}
