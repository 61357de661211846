package notify

import (
	"context"
	"log"

	"videoguard/internal/analyzer"
	"videoguard/internal/objectstore"
	"videoguard/internal/store"
	"videoguard/internal/telegram"
)

// Sinks composes the NATS bus, the durable events table, the S3-compatible
// object store, and the optional Telegram bot into the single
// analyzer.Sinks interface the Driver publishes to — the concrete wiring
// of SPEC_FULL.md §6's database, object-store and notification interfaces,
// plus the optional Telegram sink.
type Sinks struct {
	bus     *Bus
	db      *store.Store
	objects *objectstore.Client
	bot     *telegram.TelegramBot
	logger  *log.Logger
}

// NewSinks constructs a Sinks. bot may be nil when Telegram is disabled.
func NewSinks(bus *Bus, db *store.Store, objects *objectstore.Client, bot *telegram.TelegramBot, logger *log.Logger) *Sinks {
	return &Sinks{bus: bus, db: db, objects: objects, bot: bot, logger: logger}
}

// PublishEvent publishes to NATS, durably records the same message in the
// events table, and, if enabled, sends a Telegram alert. The database write
// runs first, synchronously, and a failure of it is only logged; the
// Telegram text alert (no thumbnail attached) is sent from its own
// goroutine. Neither can fail the NATS publish.
func (s *Sinks) PublishEvent(ctx context.Context, ev analyzer.NotifyEvent) error {
	if err := s.db.SaveEvent(ctx, ev.AnalyzerID, ev.Timestamp, ev.Video, ev.Metadata, ev.Thumbnail, ev.Triggered); err != nil {
		s.logger.Printf("sinks: save event: %v", err)
	}
	if s.bot != nil && s.bot.IsEnabled() {
		go func() {
			_ = s.bot.SendIntrusionAlert(ctx, ev.AnalyzerID, ev.Triggered, nil)
		}()
	}
	return s.bus.PublishEvent(ctx, ev)
}

// PutObject uploads to the object store.
func (s *Sinks) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	return s.objects.PutObject(ctx, key, data, contentType)
}
