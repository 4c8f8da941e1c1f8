package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SubscriptionSyncMessage Tests
// =============================================================================

func TestSubscriptionSyncMessage_ToJSON(t *testing.T) {
	msg := &SubscriptionSyncMessage{
		AllCustomers: true,
		MonthFilter:  "2026-07",
		MaxPages:     10,
	}

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	require.NoError(t, err)
	assert.Equal(t, true, result["all_customers"])
	assert.Equal(t, "2026-07", result["month_filter"])
	assert.Equal(t, float64(10), result["max_pages"])
}

func TestFromJSONSubscriptionSync_Success(t *testing.T) {
	jsonData := []byte(`{"customer_id": "cus_123", "email": "buyer@example.com"}`)

	msg, err := FromJSONSubscriptionSync(jsonData)
	require.NoError(t, err)
	assert.Equal(t, "cus_123", msg.CustomerID)
	assert.Equal(t, "buyer@example.com", msg.Email)
	assert.False(t, msg.AllCustomers)
}

func TestFromJSONSubscriptionSync_InvalidJSON(t *testing.T) {
	msg, err := FromJSONSubscriptionSync([]byte(`invalid json`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestFromJSONSubscriptionSync_ValidationError(t *testing.T) {
	jsonData := []byte(`{"month_filter": "2026-07"}`)

	msg, err := FromJSONSubscriptionSync(jsonData)
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "customer_id, email, or all_customers is required")
}

func TestSubscriptionSyncMessage_RoundTrip(t *testing.T) {
	original := &SubscriptionSyncMessage{
		AllCustomers: true,
		MonthFilter:  "2026-06",
		MaxPages:     5,
	}

	data, err := original.ToJSON()
	require.NoError(t, err)

	msg, err := FromJSONSubscriptionSync(data)
	require.NoError(t, err)

	assert.Equal(t, original.AllCustomers, msg.AllCustomers)
	assert.Equal(t, original.MonthFilter, msg.MonthFilter)
	assert.Equal(t, original.MaxPages, msg.MaxPages)
}

func TestSubscriptionSyncMessage_Validate(t *testing.T) {
	tests := []struct {
		name        string
		msg         *SubscriptionSyncMessage
		expectError bool
	}{
		{
			name:        "all customers set",
			msg:         &SubscriptionSyncMessage{AllCustomers: true},
			expectError: false,
		},
		{
			name:        "customer id set",
			msg:         &SubscriptionSyncMessage{CustomerID: "cus_123"},
			expectError: false,
		},
		{
			name:        "email set",
			msg:         &SubscriptionSyncMessage{Email: "buyer@example.com"},
			expectError: false,
		},
		{
			name:        "nothing set",
			msg:         &SubscriptionSyncMessage{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
