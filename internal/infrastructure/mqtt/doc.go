// Package mqtt connects incidentdesk to an MQTT broker.
//
// The broker carries two kinds of outbound traffic:
//   - Mail jobs for an external mail bridge, when mail.transport is "mqtt"
//   - Incident lifecycle events for downstream dashboards and pagers
//
// The client reconnects automatically and announces its presence on the
// system status topic, with a Last Will so subscribers notice a crash.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(ctx, mqtt.Topics{}.IncidentEvent("inc-1", "created"), event)
package mqtt
