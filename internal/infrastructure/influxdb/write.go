package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementIncidentEvent holds one point per incident lifecycle event.
const MeasurementIncidentEvent = "incident_event"

// IncidentEvent describes a single incident transition.
type IncidentEvent struct {
	IncidentID string
	OwnerID    string
	Kind       string // created, solution_attached, observations_amended
	Status     string
	Resolved   bool
	// SinceCreated is the age of the incident when the event happened.
	SinceCreated time.Duration
	At           time.Time
}

// NewIncidentPoint converts ev into a line-protocol point. Low-cardinality
// values are tags; identifiers are fields.
func NewIncidentPoint(ev IncidentEvent) *write.Point {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementIncidentEvent,
		map[string]string{
			"kind":     ev.Kind,
			"status":   ev.Status,
			"owner_id": ev.OwnerID,
		},
		map[string]any{
			"incident_id":   ev.IncidentID,
			"resolved":      ev.Resolved,
			"since_created": ev.SinceCreated.Seconds(),
		},
		at,
	)
}

// WriteIncidentEvent queues ev for the next batch. Dropped when the client
// is not connected.
func (c *Client) WriteIncidentEvent(ev IncidentEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewIncidentPoint(ev))
}
