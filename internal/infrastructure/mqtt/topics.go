package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every tdsconn topic.
const TopicPrefix = "tdsconn"

// Topics builds tdsconn MQTT topics:
//
//	tdsconn/system/{client_id}/status
//	tdsconn/connection/{conn_id}/{event}
//	tdsconn/probe/{server}
type Topics struct{}

// SystemStatus is the retained online/offline status topic of one client.
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/system/%s/status", TopicPrefix, segment(clientID))
}

// ConnectionEvent is the topic for one lifecycle event of a connection.
//
// Example: tdsconn/connection/5f0c.../evicted
func (Topics) ConnectionEvent(connID, event string) string {
	return fmt.Sprintf("%s/connection/%s/%s", TopicPrefix, segment(connID), segment(event))
}

// AllConnectionEvents matches every connection lifecycle event.
func (Topics) AllConnectionEvents() string {
	return TopicPrefix + "/connection/#"
}

// ConnectionEvents matches every event of a single connection.
func (Topics) ConnectionEvents(connID string) string {
	return fmt.Sprintf("%s/connection/%s/+", TopicPrefix, segment(connID))
}

// Probe is the retained topic holding the latest probe result for a server.
func (Topics) Probe(server string) string {
	return fmt.Sprintf("%s/probe/%s", TopicPrefix, segment(server))
}

// ParseConnectionEvent extracts the connection ID and event name from a
// topic built by ConnectionEvent.
func (Topics) ParseConnectionEvent(topic string) (connID, event string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "connection" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// segment makes s safe as a single topic level. Wildcards and separators
// are replaced, and an empty value becomes "_".
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", `\`, "_").Replace(s)
}
