package natsbus

import "fmt"

// TopicEvent is the subject an event of type name from source is published
// on.
func TopicEvent(source, name string) string {
	return fmt.Sprintf("events.%s.%s", source, name)
}

const (
	TopicEventsAll         = "events.>"
	TopicEventsCoordinator = "events.coordinator.*"
	TopicEventsMonitor     = "events.monitor.*"
)
