package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/CShear/regen-compute-credits/internal/balance"
	"github.com/CShear/regen-compute-credits/internal/pool"
)

// WebhookConfig tunes the checkout webhook receiver (spec §6).
type WebhookConfig struct {
	// Secret, when non-empty, makes signature verification mandatory
	// (spec §6: "Signature verification is mandatory when a webhook
	// secret is configured").
	Secret string
}

// checkoutCompletedEvent is the one event type spec §6 names: a "checkout
// completed" event carrying {id, amount_total, customer_email, customer}.
type checkoutCompletedEvent struct {
	ID            string `json:"id"`
	AmountTotal   int64  `json:"amount_total"`
	CustomerEmail string `json:"customer_email"`
	Customer      string `json:"customer"`
}

func verifySignature(secret string, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signatureHex), []byte(expected)) == 1
}

// handleCheckoutWebhook implements spec §6's webhook contract: creates or
// finds a user by email, records a Contribution with externalEventId =
// "stripe_checkout:" + event.id, and credits the prepaid balance only when
// that Contribution is new, so replays are no-ops (idempotency is enforced
// by pool.Accounting itself).
func (h *Handler) handleCheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindInvalidRequest, "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, KindInvalidRequest, "failed to read request body", nil)
		return
	}

	if h.Webhook != nil && h.Webhook.Secret != "" {
		signature := r.Header.Get("X-Webhook-Signature")
		if signature == "" || !verifySignature(h.Webhook.Secret, body, signature) {
			writeError(w, KindUnauthorized, "invalid webhook signature", nil)
			return
		}
	}

	var event checkoutCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, KindInvalidRequest, "invalid JSON body", err.Error())
		return
	}
	if event.ID == "" || event.CustomerEmail == "" || event.AmountTotal <= 0 {
		writeError(w, KindInvalidRequest, "id, customer_email, and a positive amount_total are required", nil)
		return
	}

	user, err := h.findOrCreateUserByEmail(r.Context(), event.CustomerEmail, event.Customer)
	if err != nil {
		writeError(w, KindInternalError, "failed to resolve user for webhook event", nil)
		return
	}

	externalEventID := "stripe_checkout:" + event.ID
	result, err := h.Pool.RecordContribution(r.Context(), pool.RecordInput{
		UserID:          user.ID,
		AmountUsdCents:  event.AmountTotal,
		ContributedAt:   time.Now().UTC().Format(time.RFC3339),
		Source:          pool.SourceOneOff,
		ExternalEventID: externalEventID,
	})
	if err != nil {
		writeError(w, KindInvalidRequest, err.Error(), nil)
		return
	}
	if result.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	if _, err := h.Balance.CreditBalance(r.Context(), user.ID, event.AmountTotal, "checkout completed", event.ID); err != nil {
		writeError(w, KindInternalError, "failed to credit balance", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"duplicate": false})
}

func (h *Handler) findOrCreateUserByEmail(ctx context.Context, email, stripeCustomerID string) (*balance.User, error) {
	u, err := h.Balance.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, balance.ErrUserNotFound) {
		return nil, fmt.Errorf("httpapi: failed to look up user by email: %w", err)
	}

	var customerIDPtr *string
	if stripeCustomerID != "" {
		customerIDPtr = &stripeCustomerID
	}
	now := time.Now().UTC()
	newUser := &balance.User{
		ID:               uuid.NewString(),
		APIKey:           "key_" + uuid.NewString(),
		Email:            email,
		StripeCustomerID: customerIDPtr,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.Balance.CreateUser(ctx, newUser); err != nil {
		return nil, fmt.Errorf("httpapi: failed to create user for webhook event: %w", err)
	}
	return newUser, nil
}
