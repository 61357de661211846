package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"videoguard/internal/analyzer"
	"videoguard/internal/config"
)

func requireNATS(t *testing.T, url string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:4222", 500*time.Millisecond)
	if err != nil {
		t.Skipf("no NATS server reachable, skipping integration test: %v", err)
	}
	conn.Close()
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		URL:            "nats://127.0.0.1:4222",
		NotifySubject:  "videoguard.test.events",
		ControlSubject: "videoguard.test.control",
	}
}

func TestConnectAndPublishEvent(t *testing.T) {
	cfg := testConfig()
	requireNATS(t, cfg.URL)

	bus, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer bus.Close()

	sub, err := bus.nc.SubscribeSync(cfg.NotifySubject)
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}

	ev := analyzer.NotifyEvent{
		AnalyzerID: "cam-1",
		Timestamp:  time.Now(),
		Video:      "video/1.mp4",
		Triggered:  []string{"person"},
	}
	if err := bus.PublishEvent(context.Background(), ev); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if len(msg.Data) == 0 {
		t.Fatal("expected a non-empty published payload")
	}
}

func TestBusSubscribeRoundTrip(t *testing.T) {
	cfg := testConfig()
	requireNATS(t, cfg.URL)

	bus, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer bus.Close()

	sub, err := bus.Subscribe(func(ctx context.Context, data []byte) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	reply, err := bus.nc.Request(cfg.ControlSubject, []byte(`{"command":"READ"}`), 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply.Data) != `{"ok":true}` {
		t.Errorf("reply = %s, want {\"ok\":true}", reply.Data)
	}
}
