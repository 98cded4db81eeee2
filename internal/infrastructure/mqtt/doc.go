// Package mqtt publishes connection lifecycle events to an MQTT broker.
//
// Topics:
//
//	tdsconn/system/{client_id}/status     retained online/offline (also the last will)
//	tdsconn/connection/{conn_id}/{event}  connected, connect_failed, evicted, disconnected, probed
//	tdsconn/probe/{server}                retained latest probe or connect failure per server
//
// The Client wraps paho.mqtt.golang with auto-reconnect and subscription
// restore. LifecyclePublisher adapts it to the manager's observer
// callback; publishing happens on a background goroutine so a slow broker
// never delays a connect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewLifecyclePublisher(client, byte(cfg.MQTT.QoS), logger)
//	defer pub.Close()
//	manager.SetObserver(pub.Observe)
package mqtt
