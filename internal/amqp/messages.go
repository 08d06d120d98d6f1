package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// InvalidationMessage announces that the named cache resources changed on
// the backend. Origin identifies the publishing instance so it can skip its
// own messages.
type InvalidationMessage struct {
	Origin    string    `json:"origin"`
	Resources []string  `json:"resources"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrEmptyInvalidation = errors.New("invalidation message without origin or resources")

// NewInvalidationMessage creates a message stamped with the current time
func NewInvalidationMessage(origin string, resources ...string) *InvalidationMessage {
	return &InvalidationMessage{
		Origin:    origin,
		Resources: resources,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvalidationMessageFromJSON parses and validates a message
func InvalidationMessageFromJSON(data []byte) (*InvalidationMessage, error) {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Origin == "" || len(msg.Resources) == 0 {
		return nil, ErrEmptyInvalidation
	}
	return &msg, nil
}
