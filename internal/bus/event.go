package bus

import "time"

// Event is a notification delivered to subscribers.
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}
