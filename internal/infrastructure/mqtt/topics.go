package mqtt

import "fmt"

// TopicPrefixSystem is the base for system topics.
const TopicPrefixSystem = "graylogic/system"

// Topics provides builders for the topics the transport publishes on its own.
type Topics struct{}

// SystemStatus returns the shared status topic used for the Last Will and
// the online/offline announcements.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// PublisherStatus returns the per-client status topic.
//
// Example: graylogic/system/status/app_0f1e...
func (Topics) PublisherStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}
