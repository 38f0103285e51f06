package diag

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/robotsgofarming/abls/internal/module/protocol"
)

type capturePublisher struct {
	mu       sync.Mutex
	messages []captured
}

type captured struct {
	topic    string
	retained bool
	payload  []byte
}

func (c *capturePublisher) Start(context.Context) error { return nil }
func (c *capturePublisher) IsConnected() bool           { return true }
func (c *capturePublisher) Disconnect(context.Context)  {}
func (c *capturePublisher) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, captured{topic: topic, retained: retain, payload: payload})
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestLogWithoutPublisher(t *testing.T) {
	s := NewSink("abls-left", "abls/v1", nil)
	// Must not panic or block.
	s.Log(LevelInfo, "update", "session started")
	s.Log(LevelError, "flash", "erase failed")
}

func TestLogNeverBlocksWhenQueueFull(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink("abls-left", "abls/v1", pub)

	done := make(chan struct{})
	go func() {
		// No Run loop draining: far more events than the queue holds.
		for i := 0; i < 500; i++ {
			s.Log(LevelInfo, "update", "progress")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full telemetry queue")
	}
}

func TestRunDeliversEvents(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink("abls-centre", "abls/v1", pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Log(LevelWarn, "safety", "voltage sagging")

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("event never reached the publisher")
	}

	pub.mu.Lock()
	msg := pub.messages[0]
	pub.mu.Unlock()
	if msg.topic != "abls/v1/abls-centre/diag" {
		t.Fatalf("topic = %s, want abls/v1/abls-centre/diag", msg.topic)
	}

	var ev Event
	if err := json.Unmarshal(msg.payload, &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Component != "safety" || ev.Level != LevelWarn {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPublishStatusRetained(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink("abls-right", "abls/v1", pub)

	s.PublishStatus(context.Background(), protocol.StatusPacket{
		SenderID: 2,
		Status:   protocol.StatusOperational,
		Version:  "2.1.3+47",
	})

	if pub.count() != 1 {
		t.Fatalf("published %d messages, want 1", pub.count())
	}
	pub.mu.Lock()
	msg := pub.messages[0]
	pub.mu.Unlock()
	if !msg.retained {
		t.Fatal("status message not retained")
	}
	if msg.topic != s.StatusTopic() {
		t.Fatalf("topic = %s, want %s", msg.topic, s.StatusTopic())
	}
}
