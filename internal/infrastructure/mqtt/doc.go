// Package mqtt provides the MQTT connection used by the relay's mqtt broker
// driver.
//
// Instead of a cloud notification service, self-hosted deployments can hand
// notifications to gateways over MQTT:
//
//	pushrelay/endpoint/{ref}            retained endpoint registration
//	pushrelay/push/{ref}                notifications for one endpoint
//	pushrelay/system/status             retained relay online/offline status
//
// TLS should be enabled outside local development (mqtt.broker.tls).
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Publish(client.Topics().Push(ref), payload, client.QoS(), false)
package mqtt
