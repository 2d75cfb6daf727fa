package mqtt

import "fmt"

// TopicPrefix is the root of every incidentdesk topic.
const TopicPrefix = "incidentdesk"

// Topics builds incidentdesk topic names.
//
//	topics := mqtt.Topics{}
//	topics.IncidentEvent("inc-42", "solution_attached")
//	// incidentdesk/incident/inc-42/solution_attached
type Topics struct{}

// SystemStatus is the retained online/offline presence topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// MailOutbox returns the configured outbox topic, or the default one.
func (Topics) MailOutbox(configured string) string {
	if configured != "" {
		return configured
	}
	return TopicPrefix + "/mail/outbox"
}

// IncidentEvent is the topic for one lifecycle event of an incident.
func (Topics) IncidentEvent(incidentID, event string) string {
	return fmt.Sprintf("%s/incident/%s/%s", TopicPrefix, incidentID, event)
}

// AllIncidentEvents matches every incident event.
func (Topics) AllIncidentEvents() string {
	return TopicPrefix + "/incident/+/+"
}
