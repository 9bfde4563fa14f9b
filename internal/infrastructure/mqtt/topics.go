package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "autelis"

// Topics builds the bridge's MQTT topics under a single prefix.
//
// Layout (prefix "autelis"):
//
//	autelis/set/{device}      inbound commands, plain payload ("on", "84")
//	autelis/status            full snapshot, retained JSON
//	autelis/status/{field}    one field, retained plain value
//	autelis/exception         error reports, JSON
//	autelis/health            bridge health, retained JSON
//	autelis/bridge/status     connection status and LWT, retained JSON
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Command returns the command topic for a device.
//
// Example: autelis/set/jets
func (t Topics) Command(device string) string {
	return fmt.Sprintf("%s/set/%s", t.prefix(), device)
}

// AllCommands returns the subscription pattern for every device command.
//
// Pattern: autelis/set/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/set/+", t.prefix())
}

// ParseCommand extracts the device name from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/set/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Snapshot returns the topic carrying the full flattened snapshot.
//
// Example: autelis/status
func (t Topics) Snapshot() string {
	return fmt.Sprintf("%s/status", t.prefix())
}

// Field returns the per-field state topic.
//
// Example: autelis/status/poolSetpoint
func (t Topics) Field(field string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix(), field)
}

// Exception returns the topic error reports are published on.
func (t Topics) Exception() string {
	return fmt.Sprintf("%s/exception", t.prefix())
}

// Health returns the bridge health topic.
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health", t.prefix())
}

// BridgeStatus returns the connection status topic (also the LWT topic).
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.prefix())
}

// All returns a pattern matching every bridge topic.
// Use with caution - this receives ALL traffic under the prefix.
func (t Topics) All() string {
	return fmt.Sprintf("%s/#", t.prefix())
}
