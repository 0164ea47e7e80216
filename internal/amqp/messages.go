package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Receipt actions carried by ReceiptSavedMessage.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ReceiptSavedMessage announces a stored or edited receipt. It carries only
// the id; consumers load the current row from the database.
type ReceiptSavedMessage struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReceiptSavedMessage creates a message with a fresh message id.
func NewReceiptSavedMessage(id int64, action string) *ReceiptSavedMessage {
	return &ReceiptSavedMessage{
		ID:        id,
		Action:    action,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReceiptSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReceiptSavedMessageFromJSON decodes and checks a message body.
func ReceiptSavedMessageFromJSON(data []byte) (*ReceiptSavedMessage, error) {
	var msg ReceiptSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID < 1 {
		return nil, fmt.Errorf("invalid receipt id %d", msg.ID)
	}
	switch msg.Action {
	case ActionCreated, ActionUpdated:
	default:
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
	return &msg, nil
}
