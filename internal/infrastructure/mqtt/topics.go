package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "pushrelay"

// Topics builds the relay's MQTT topic names under a common prefix.
//
//	topics := mqtt.NewTopics("pushrelay")
//	topics.Push("c0ffee")              // pushrelay/push/c0ffee
//	topics.Endpoint("c0ffee")          // pushrelay/endpoint/c0ffee
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained relay online/offline topic.
func (t Topics) Status() string {
	return t.prefix + "/system/status"
}

// Endpoint carries the retained registration of a device endpoint so a
// gateway can map an endpoint reference back to its platform token.
func (t Topics) Endpoint(ref string) string {
	return t.prefix + "/endpoint/" + ref
}

// Push carries notifications addressed to one endpoint.
func (t Topics) Push(ref string) string {
	return t.prefix + "/push/" + ref
}

// AllPushes matches every notification topic. Gateways subscribe to it.
func (t Topics) AllPushes() string {
	return t.prefix + "/push/+"
}
