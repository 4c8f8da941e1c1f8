package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	valid map[string]bool
	err   error
}

func (f fakeValidator) ValidateAPIKey(ctx context.Context, apiKey string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.valid[apiKey], nil
}

func TestRequireBearerAuth_MissingHeaderRejected(t *testing.T) {
	mw := RequireBearerAuth(fakeValidator{valid: map[string]bool{"good": true}})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retirements", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearerAuth_InvalidKeyRejected(t *testing.T) {
	mw := RequireBearerAuth(fakeValidator{valid: map[string]bool{"good": true}})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retirements", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearerAuth_ValidKeyPassesAndSetsContext(t *testing.T) {
	mw := RequireBearerAuth(fakeValidator{valid: map[string]bool{"good": true}})
	var sawKey string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey, _ = APIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retirements", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "good", sawKey)
}

func TestRequireBearerAuth_ValidatorErrorIsInternalError(t *testing.T) {
	mw := RequireBearerAuth(fakeValidator{err: errors.New("boom")})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retirements", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_AppliesMiddlewareOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestWriteError_MapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindInvalidRequest, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindServiceUnavailable, http.StatusServiceUnavailable},
		{KindInternalError, http.StatusInternalServerError},
		{KindVerificationFailed, http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.kind, "message", nil)
		assert.Equal(t, c.status, rec.Code)
		assert.Contains(t, rec.Body.String(), string(c.kind))
		assert.Contains(t, rec.Body.String(), "message")
	}
}

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":"yes"}`, rec.Body.String())
}

func TestMatchMonthSummary(t *testing.T) {
	assert.Equal(t, "2026-01", matchMonthSummary("/api/v1/dashboard/months/2026-01"))
	assert.Equal(t, "", matchMonthSummary("/api/v1/dashboard/batches"))
}

func TestMatchCertificate(t *testing.T) {
	assert.Equal(t, "cert-123", matchCertificate("/api/v1/dashboard/certificates/cert-123"))
	assert.Equal(t, "", matchCertificate("/api/v1/dashboard/months/2026-01"))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	valid := computeTestSignature(secret, body)
	require.True(t, verifySignature(secret, body, valid))
	require.False(t, verifySignature(secret, body, "deadbeef"))
	require.False(t, verifySignature("wrong-secret", body, valid))
}

func computeTestSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
