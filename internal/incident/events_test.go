package incident

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/influxdb"
)

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (p *fakePublisher) PublishJSON(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("not connected")
	}
	p.topics = append(p.topics, topic)
	return nil
}

type fakeWriter struct {
	points []influxdb.IncidentEvent
}

func (w *fakeWriter) WriteIncidentEvent(ev influxdb.IncidentEvent) {
	w.points = append(w.points, ev)
}

func TestMQTTSink_PublishesPerIncidentTopic(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, 4, slog.New(slog.DiscardHandler))

	sink.IncidentEvent(context.Background(), Event{Kind: EventCreated, IncidentID: "inc-1"})
	sink.IncidentEvent(context.Background(), Event{Kind: EventSolved, IncidentID: "inc-1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)

	want := []string{"incidentdesk/incident/inc-1/created", "incidentdesk/incident/inc-1/solution_attached"}
	if len(pub.topics) != 2 || pub.topics[0] != want[0] || pub.topics[1] != want[1] {
		t.Errorf("topics = %v, want %v", pub.topics, want)
	}
}

func TestMQTTSink_DropsWhenFullAndSurvivesFailures(t *testing.T) {
	pub := &fakePublisher{fail: true}
	sink := NewMQTTSink(pub, 1, slog.New(slog.DiscardHandler))

	sink.IncidentEvent(context.Background(), Event{Kind: EventCreated, IncidentID: "inc-1"})
	sink.IncidentEvent(context.Background(), Event{Kind: EventCreated, IncidentID: "inc-2"})
	if len(sink.queue) != 1 {
		t.Errorf("queued = %d, want 1", len(sink.queue))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)
}

func TestInfluxSinkAndMultiSink(t *testing.T) {
	w := &fakeWriter{}
	log := &eventLog{}
	sink := MultiSink{InfluxSink{Writer: w}, log}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.IncidentEvent(context.Background(), Event{
		Kind: EventSolved, IncidentID: "inc-1", OwnerID: "usr-1",
		Status: StatusResolved, Resolved: true, SinceCreated: 90 * time.Minute, At: at,
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Kind != "solution_attached" || p.Status != "resolved" || !p.Resolved || p.SinceCreated != 90*time.Minute || !p.At.Equal(at) {
		t.Errorf("point = %+v", p)
	}
	if len(log.kinds()) != 1 {
		t.Errorf("second sink got %d events, want 1", len(log.kinds()))
	}
}
