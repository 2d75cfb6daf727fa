package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/influxdb"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/mqtt"
)

// EventKind names a committed lifecycle transition.
type EventKind string

// Event kinds.
const (
	EventCreated EventKind = "created"
	EventSolved  EventKind = "solution_attached"
	EventAmended EventKind = "observations_amended"
)

// Event is published after a transition has been committed.
type Event struct {
	Kind         EventKind     `json:"kind"`
	IncidentID   string        `json:"incident_id"`
	OwnerID      string        `json:"owner_id"`
	Status       Status        `json:"status"`
	Resolved     bool          `json:"is_resolved"`
	SinceCreated time.Duration `json:"-"`
	At           time.Time     `json:"at"`
}

// EventSink receives lifecycle events. Implementations must not block the
// caller and must not fail the transition.
type EventSink interface {
	IncidentEvent(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) IncidentEvent(context.Context, Event) {}

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

// IncidentEvent implements EventSink.
func (m MultiSink) IncidentEvent(ctx context.Context, ev Event) {
	for _, s := range m {
		s.IncidentEvent(ctx, ev)
	}
}

// PointWriter is the subset of the InfluxDB client used by InfluxSink.
type PointWriter interface {
	WriteIncidentEvent(ev influxdb.IncidentEvent)
}

// InfluxSink records each event as a time-series point.
type InfluxSink struct {
	Writer PointWriter
}

// IncidentEvent implements EventSink. The writer batches internally.
func (s InfluxSink) IncidentEvent(_ context.Context, ev Event) {
	s.Writer.WriteIncidentEvent(influxdb.IncidentEvent{
		IncidentID:   ev.IncidentID,
		OwnerID:      ev.OwnerID,
		Kind:         string(ev.Kind),
		Status:       string(ev.Status),
		Resolved:     ev.Resolved,
		SinceCreated: ev.SinceCreated,
		At:           ev.At,
	})
}

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v any) error
}

// MQTTSink publishes events to incidentdesk/incident/{id}/{kind} from a
// bounded queue drained by Run.
type MQTTSink struct {
	pub    Publisher
	queue  chan Event
	logger *slog.Logger
}

// NewMQTTSink creates a sink. Call Run to start publishing.
func NewMQTTSink(pub Publisher, queueSize int, logger *slog.Logger) *MQTTSink {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &MQTTSink{pub: pub, queue: make(chan Event, queueSize), logger: logger}
}

// IncidentEvent implements EventSink. Events that do not fit are dropped.
func (s *MQTTSink) IncidentEvent(_ context.Context, ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("incident event queue full, dropping", "incident_id", ev.IncidentID, "kind", ev.Kind)
	}
}

// Run publishes queued events until ctx is cancelled, then drains the
// queue.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case ev := <-s.queue:
			s.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *MQTTSink) publish(ev Event) {
	topic := mqtt.Topics{}.IncidentEvent(ev.IncidentID, string(ev.Kind))
	if err := s.pub.PublishJSON(context.Background(), topic, ev); err != nil {
		s.logger.Warn("publishing incident event failed", "topic", topic, "error", err)
	}
}
