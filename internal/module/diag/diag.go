// Package diag is the module's diagnostics sink: every event is logged
// locally, and mirrored to the telemetry broker when one is configured.
// Emitting an event never blocks the update workflow; telemetry that cannot
// be delivered is dropped.
package diag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robotsgofarming/abls/internal/module/protocol"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/mqtt"
)

// Levels of a diagnostic event.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one diagnostic record.
type Event struct {
	Time      time.Time `json:"time"`
	Module    string    `json:"module"`
	Component string    `json:"component"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Sink fans diagnostic events out to the local log and, best-effort, to the
// telemetry broker.
type Sink struct {
	moduleID  string
	topicRoot string
	pub       mqtt.Publisher

	events chan Event
}

// NewSink builds a sink. pub may be nil, in which case events only reach the
// local log.
func NewSink(moduleID, topicRoot string, pub mqtt.Publisher) *Sink {
	return &Sink{
		moduleID:  moduleID,
		topicRoot: topicRoot,
		pub:       pub,
		events:    make(chan Event, 64),
	}
}

// Log records one event. It returns immediately: the broker side is queued,
// and dropped if the queue is full.
func (s *Sink) Log(level, component, message string) {
	switch level {
	case LevelError:
		log.Error(nil, message, "component", component)
	case LevelWarn:
		log.Warn(message, "component", component)
	default:
		log.Info(message, "component", component)
	}

	if s.pub == nil {
		return
	}
	ev := Event{
		Time:      time.Now(),
		Module:    s.moduleID,
		Component: component,
		Level:     level,
		Message:   message,
	}
	select {
	case s.events <- ev:
	default:
		// Telemetry is advisory; the workflow never waits for it.
	}
}

// PublishStatus mirrors a status packet to the broker as retained JSON so a
// late-joining operator console sees the last known state.
func (s *Sink) PublishStatus(ctx context.Context, p protocol.StatusPacket) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.pub.Publish(ctx, s.statusTopic(), 0, true, payload); err != nil {
		log.Debug("Status telemetry dropped", "err", err)
	}
}

// Run drains queued events to the broker until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := s.pub.Publish(ctx, s.diagTopic(), 0, false, payload); err != nil {
				log.Debug("Diagnostic telemetry dropped", "err", err)
			}
		}
	}
}

func (s *Sink) diagTopic() string {
	return s.topicRoot + "/" + s.moduleID + "/diag"
}

func (s *Sink) statusTopic() string {
	return s.topicRoot + "/" + s.moduleID + "/status"
}

// StatusTopic returns the retained status topic for this module, which is
// also the will topic announcing an unexpected offline transition.
func (s *Sink) StatusTopic() string {
	return s.statusTopic()
}
