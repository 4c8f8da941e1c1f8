package httpapi

import (
	"errors"
	"net/http"

	authpkg "github.com/CShear/regen-compute-credits/internal/auth"
)

func (h *Handler) handleStartEmailAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Email == "" {
		writeError(w, KindInvalidRequest, "email is required", nil)
		return
	}

	session, code, err := h.Auth.StartEmailAuth(r.Context(), body.Email, body.Name)
	if err != nil {
		writeError(w, KindInvalidRequest, err.Error(), nil)
		return
	}
	// The code is returned here only because this package has no mail
	// sender collaborator; a production deployment would deliver it out
	// of band and omit it from the response.
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": session.ID, "code": code, "expiresAt": session.ExpiresAt})
}

func (h *Handler) handleVerifyEmailAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
		Code      string `json:"code"`
	}
	if err := decodeJSON(r, &body); err != nil || body.SessionID == "" || body.Code == "" {
		writeError(w, KindInvalidRequest, "sessionId and code are required", nil)
		return
	}

	session, err := h.Auth.VerifyEmailAuth(r.Context(), body.SessionID, body.Code)
	if err != nil {
		writeVerificationError(w, err, session)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleStartOAuthAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		Email    string `json:"email"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Provider == "" {
		writeError(w, KindInvalidRequest, "provider is required", nil)
		return
	}

	session, stateToken, err := h.Auth.StartOAuthAuth(r.Context(), body.Provider, body.Email, body.Name)
	if err != nil {
		writeError(w, KindInvalidRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": session.ID, "stateToken": stateToken, "expiresAt": session.ExpiresAt})
}

func (h *Handler) handleVerifyOAuthAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID  string `json:"sessionId"`
		StateToken string `json:"stateToken"`
		Provider   string `json:"provider"`
		Subject    string `json:"subject"`
		Email      string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil || body.SessionID == "" || body.StateToken == "" || body.Subject == "" {
		writeError(w, KindInvalidRequest, "sessionId, stateToken, and subject are required", nil)
		return
	}

	session, err := h.Auth.VerifyOAuthAuth(r.Context(), body.SessionID, body.StateToken, body.Provider, body.Subject, body.Email)
	if err != nil {
		writeVerificationError(w, err, session)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleStartRecovery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Email == "" {
		writeError(w, KindInvalidRequest, "email is required", nil)
		return
	}

	rec, token, err := h.Auth.StartRecovery(r.Context(), body.Email)
	if err != nil {
		if errors.Is(err, authpkg.ErrNoVerifiedSession) {
			writeError(w, KindNotFound, err.Error(), nil)
			return
		}
		writeError(w, KindInternalError, "failed to start recovery", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveryTokenId": rec.ID, "token": token, "expiresAt": rec.ExpiresAt})
}

func (h *Handler) handleRecoverWithToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Token == "" {
		writeError(w, KindInvalidRequest, "token is required", nil)
		return
	}

	session, err := h.Auth.RecoverWithToken(r.Context(), body.Token)
	if err != nil {
		writeError(w, KindInvalidRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// writeVerificationError implements spec §7's VERIFICATION_FAILED kind:
// surfaced with the attempt count and locked flag still mutated even on
// failure, per spec §7's propagation policy for Auth.
func writeVerificationError(w http.ResponseWriter, err error, session *authpkg.Session) {
	details := map[string]any{}
	if session != nil {
		details["verificationAttempts"] = session.VerificationAttempts
		details["locked"] = session.Status == authpkg.StatusLocked
	}
	switch {
	case errors.Is(err, authpkg.ErrSessionNotFound):
		writeError(w, KindNotFound, err.Error(), nil)
	case errors.Is(err, authpkg.ErrInvalidCode), errors.Is(err, authpkg.ErrSessionLocked):
		writeError(w, KindVerificationFailed, err.Error(), details)
	default:
		writeError(w, KindInvalidRequest, err.Error(), nil)
	}
}
