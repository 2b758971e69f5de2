package amqp

import (
	"encoding/json"
	"time"
)

// SettlementEventMessage is published after a settlement commits. It carries
// enough to notify the counterpart without a database round-trip; consumers
// that need the full picture fetch by SettlementID.
type SettlementEventMessage struct {
	SettlementID string    `json:"settlement_id"`
	UserID       string    `json:"user_id"`
	FamilyID     string    `json:"family_id"`
	MemberID     string    `json:"member_id"`
	Kind         string    `json:"kind"` // "full" or "partial"
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	ItemCount    int       `json:"item_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (m *SettlementEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SettlementEventMessageFromJSON(data []byte) (*SettlementEventMessage, error) {
	var msg SettlementEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
