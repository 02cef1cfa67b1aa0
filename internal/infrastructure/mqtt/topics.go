package mqtt

import "fmt"

// TopicPrefix is the root of every topic this service publishes or
// subscribes to.
const TopicPrefix = "fourheat"

// Topics builds the stove topic hierarchy:
//
//	fourheat/state/{device_id}    retained JSON snapshot
//	fourheat/command/{device_id}  inbound commands
//	fourheat/ack/{device_id}      command acknowledgements
//	fourheat/health               retained bridge health
//	fourheat/system/status        online/offline and LWT
type Topics struct{}

// State returns the retained snapshot topic for a stove.
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Command returns the topic a stove's commands arrive on.
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic command acknowledgements are published on.
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// Health returns the bridge health topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus returns the service online/offline topic. The broker
// publishes the LWT here on unexpected disconnect.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches the command topic of every stove.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}
