package outbox

import "time"

const (
	StatusPending   = "pending"
	StatusPublished = "published"
)

// Message is an outbox row written next to the state change it describes.
// The relay publishes pending rows and marks them published.
type Message struct {
	ID           string
	EventType    string
	PartitionKey string
	Payload      []byte
	Status       string
	CreatedAt    time.Time
}
