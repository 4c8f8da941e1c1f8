package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SubscriptionSyncMessage requests an async Subscription Sync run (spec
// §4.7), drained by cmd/worker/sync. No code in this repository publishes
// it.
type SubscriptionSyncMessage struct {
	CustomerID   string `json:"customer_id,omitempty"`
	Email        string `json:"email,omitempty"`
	AllCustomers bool   `json:"all_customers"`
	MonthFilter  string `json:"month_filter,omitempty"`
	MaxPages     int    `json:"max_pages,omitempty"`
}

// ToJSON serializes the SubscriptionSyncMessage to JSON bytes.
func (m *SubscriptionSyncMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subscription sync message: %w", err)
	}
	return data, nil
}

// FromJSONSubscriptionSync deserializes JSON bytes into a
// SubscriptionSyncMessage and validates it.
func FromJSONSubscriptionSync(data []byte) (*SubscriptionSyncMessage, error) {
	msg := &SubscriptionSyncMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription sync message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks that the message names either a specific customer or
// requests an all-customer sync, matching Request.Validate in
// internal/subscription.
func (m *SubscriptionSyncMessage) Validate() error {
	if !m.AllCustomers && m.CustomerID == "" && m.Email == "" {
		return errors.New("customer_id, email, or all_customers is required")
	}
	return nil
}
