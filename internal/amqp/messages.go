package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LedgerChangedMessage announces that a user's ledger document was rewritten.
// It carries no ledger data; subscribers re-read the document.
type LedgerChangedMessage struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerChangedMessage creates a notice with a fresh message id.
func NewLedgerChangedMessage(userID string, version int64) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		MessageID: uuid.NewString(),
		UserID:    userID,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON parses and validates a notice.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("ledger changed message without user id")
	}
	return &msg, nil
}

// RoutingKey is the topic key notices for userID are published under.
func RoutingKey(userID string) string {
	return "ledger." + userID
}
