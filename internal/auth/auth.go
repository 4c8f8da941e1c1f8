// Package auth implements spec §4.9's Identity Auth Session & Recovery:
// email-code and OAuth-state verification of a caller's identity, plus a
// single-use recovery flow, expressed with the same posture as the
// teacher's internal/crypto package — stdlib crypto/* primitives, no
// third-party crypto library, constant-time comparisons throughout.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a Session's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
	StatusLocked   Status = "locked"
)

// Method discriminates how a Session is being verified.
type Method string

const (
	MethodEmail Method = "email"
	MethodOAuth Method = "oauth"
)

// Session is one in-flight or completed verification (spec §4.9).
type Session struct {
	ID                   string `json:"id"`
	Method               Method `json:"method"`
	Status               Status `json:"status"`
	Email                string `json:"email,omitempty"`
	Name                 string `json:"name,omitempty"`
	Provider             string `json:"provider,omitempty"`
	Subject              string `json:"subject,omitempty"`
	EmailCodeHash        string `json:"emailCodeHash,omitempty"`
	VerificationAttempts int    `json:"verificationAttempts"`
	ExpiresAt            string `json:"expiresAt"` // ISO-8601
	CreatedAt            string `json:"createdAt"`
	VerifiedAt           string `json:"verifiedAt,omitempty"`
}

// RecoveryToken is a single-use credential minted by startRecovery.
type RecoveryToken struct {
	ID              string `json:"id"`
	SourceSessionID string `json:"sourceSessionId"`
	Email           string `json:"email"`
	TokenHash       string `json:"tokenHash"`
	ExpiresAt       string `json:"expiresAt"`
	ConsumedAt      string `json:"consumedAt,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

// Store is the read-modify-write persistence interface auth needs.
// filestore.go provides a JSON-file-backed implementation.
type Store interface {
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, bool, error)
	FindMostRecentVerifiedByEmail(ctx context.Context, email string) (*Session, bool, error)
	SaveRecoveryToken(ctx context.Context, t RecoveryToken) error
	FindRecoveryTokenByHash(ctx context.Context, hash string) (*RecoveryToken, bool, error)
	SaveUserLink(ctx context.Context, userID, sessionID string) error
}

// Config holds the Service's secrets and tunables.
type Config struct {
	EmailCodeSecret         string
	OAuthStateSecret        string
	RecoverySecret          string
	AllowedOAuthProviders   []string
	SessionTTL              time.Duration // default 10m
	OAuthStateTTL           time.Duration // default 10m
	RecoveryTTL             time.Duration // default 24h, longer than SessionTTL
	MaxVerificationAttempts int           // default 5
}

// Service implements spec §4.9's operations.
type Service struct {
	Store  Store
	Config Config

	// recoveryMu serializes RecoverWithToken's find-then-consume sequence
	// so two concurrent calls sharing a token can't both observe
	// ConsumedAt == "" and both mint a session — mirrors internal/pool's
	// writeMu around RecordContribution's check-then-append.
	recoveryMu sync.Mutex
}

var ErrSessionNotFound = errors.New("auth: session not found")
var ErrInvalidCode = errors.New("auth: invalid verification code")
var ErrSessionLocked = errors.New("auth: session is locked")
var ErrSessionNotPending = errors.New("auth: session is not pending")
var ErrSessionNotVerified = errors.New("auth: session is not verified")
var ErrSessionExpired = errors.New("auth: session is expired")
var ErrUnknownProvider = errors.New("auth: unknown oauth provider")
var ErrProviderMismatch = errors.New("auth: oauth provider does not match session")
var ErrInvalidStateToken = errors.New("auth: invalid oauth state token")
var ErrStateTokenExpired = errors.New("auth: oauth state token has expired")
var ErrRecoveryTokenInvalid = errors.New("auth: invalid or already-used recovery token")
var ErrRecoveryTokenExpired = errors.New("auth: recovery token has expired")
var ErrNoVerifiedSession = errors.New("auth: no verified session found for this email")

func (c Config) sessionTTL() time.Duration {
	if c.SessionTTL != 0 {
		return c.SessionTTL
	}
	return 10 * time.Minute
}

func (c Config) oauthStateTTL() time.Duration {
	if c.OAuthStateTTL != 0 {
		return c.OAuthStateTTL
	}
	return 10 * time.Minute
}

func (c Config) recoveryTTL() time.Duration {
	if c.RecoveryTTL != 0 {
		return c.RecoveryTTL
	}
	return 24 * time.Hour
}

func (c Config) maxVerificationAttempts() int {
	if c.MaxVerificationAttempts > 0 {
		return c.MaxVerificationAttempts
	}
	return 5
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func expiryISO(ttl time.Duration) string {
	return time.Now().UTC().Add(ttl).Format(time.RFC3339)
}

func parseISO(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// generateCode returns a 6-digit numeric code, zero-padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("auth: failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}

func emailCodeHash(secret, code, email string) string {
	sum := sha256.Sum256([]byte(secret + ":" + code + ":" + email))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func recoveryTokenHash(secret, token string) string {
	sum := sha256.Sum256([]byte(secret + ":" + token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// oauthStatePayload is the JSON embedded before the "." in an
// oauthStateToken.
type oauthStatePayload struct {
	SID string `json:"sid"`
	Exp int64  `json:"exp"` // unix seconds
}

func encodeOAuthState(secret, sessionID string, ttl time.Duration) (string, error) {
	payload := oauthStatePayload{SID: sessionID, Exp: time.Now().UTC().Add(ttl).Unix()}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("auth: failed to encode oauth state payload: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return encoded + "." + sig, nil
}

func verifyOAuthState(secret, token string) (oauthStatePayload, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return oauthStatePayload{}, ErrInvalidStateToken
	}
	encoded, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	expectedSig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	if !constantTimeEqual(sig, expectedSig) {
		return oauthStatePayload{}, ErrInvalidStateToken
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return oauthStatePayload{}, ErrInvalidStateToken
	}
	var payload oauthStatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return oauthStatePayload{}, ErrInvalidStateToken
	}
	if time.Now().UTC().Unix() > payload.Exp {
		return oauthStatePayload{}, ErrStateTokenExpired
	}
	return payload, nil
}

// materializeExpiry implements spec §4.9's "every session read materializes
// expiry" rule: a pending session past its expiresAt transitions to
// expired and is persisted before the caller sees it.
func (s *Service) materializeExpiry(ctx context.Context, session *Session) (*Session, error) {
	if session.Status != StatusPending {
		return session, nil
	}
	expiresAt, err := parseISO(session.ExpiresAt)
	if err != nil {
		return session, fmt.Errorf("auth: malformed expiresAt on session %s: %w", session.ID, err)
	}
	if time.Now().UTC().After(expiresAt) {
		session.Status = StatusExpired
		if err := s.Store.SaveSession(ctx, *session); err != nil {
			return nil, fmt.Errorf("auth: failed to persist expired session: %w", err)
		}
	}
	return session, nil
}

func (s *Service) getSession(ctx context.Context, id string) (*Session, error) {
	session, found, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to load session %s: %w", id, err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return s.materializeExpiry(ctx, session)
}

// StartEmailAuth begins an email-code verification. The generated code is
// returned to the caller, who is responsible for delivering it out of
// band (e.g. transactional email) — this package has no mail sender.
func (s *Service) StartEmailAuth(ctx context.Context, email, name string) (*Session, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, "", fmt.Errorf("auth: email is required")
	}
	code, err := generateCode()
	if err != nil {
		return nil, "", err
	}
	session := Session{
		ID:            uuid.NewString(),
		Method:        MethodEmail,
		Status:        StatusPending,
		Email:         email,
		Name:          strings.TrimSpace(name),
		EmailCodeHash: emailCodeHash(s.Config.EmailCodeSecret, code, email),
		ExpiresAt:     expiryISO(s.Config.sessionTTL()),
		CreatedAt:     nowISO(),
	}
	if err := s.Store.SaveSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("auth: failed to save session: %w", err)
	}
	return &session, code, nil
}

// VerifyEmailAuth checks a submitted code in constant time against the
// stored hash. Wrong codes increment verificationAttempts; reaching
// MaxVerificationAttempts locks the session.
func (s *Service) VerifyEmailAuth(ctx context.Context, sessionID, code string) (*Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusLocked {
		return nil, ErrSessionLocked
	}
	if session.Status != StatusPending {
		return nil, ErrSessionNotPending
	}

	candidate := emailCodeHash(s.Config.EmailCodeSecret, code, session.Email)
	if !constantTimeEqual(candidate, session.EmailCodeHash) {
		session.VerificationAttempts++
		if session.VerificationAttempts >= s.Config.maxVerificationAttempts() {
			session.Status = StatusLocked
		}
		if err := s.Store.SaveSession(ctx, *session); err != nil {
			return nil, fmt.Errorf("auth: failed to persist verification attempt: %w", err)
		}
		if session.Status == StatusLocked {
			return session, ErrSessionLocked
		}
		return session, ErrInvalidCode
	}

	session.Status = StatusVerified
	session.VerifiedAt = nowISO()
	if err := s.Store.SaveSession(ctx, *session); err != nil {
		return nil, fmt.Errorf("auth: failed to persist verified session: %w", err)
	}
	return session, nil
}

// StartOAuthAuth validates provider against the configured allowlist and
// issues an HMAC-signed state token for the caller to round-trip through
// the external OAuth dance.
func (s *Service) StartOAuthAuth(ctx context.Context, provider, email, name string) (*Session, string, error) {
	if !s.providerAllowed(provider) {
		return nil, "", ErrUnknownProvider
	}
	session := Session{
		ID:        uuid.NewString(),
		Method:    MethodOAuth,
		Status:    StatusPending,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      strings.TrimSpace(name),
		Provider:  provider,
		ExpiresAt: expiryISO(s.Config.sessionTTL()),
		CreatedAt: nowISO(),
	}
	if err := s.Store.SaveSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("auth: failed to save session: %w", err)
	}
	token, err := encodeOAuthState(s.Config.OAuthStateSecret, session.ID, s.Config.oauthStateTTL())
	if err != nil {
		return nil, "", err
	}
	return &session, token, nil
}

func (s *Service) providerAllowed(provider string) bool {
	for _, p := range s.Config.AllowedOAuthProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// VerifyOAuthAuth completes the OAuth dance: the state token's HMAC and
// expiry are checked, the provider must match the session's, and on
// success the subject is persisted and the session verified.
func (s *Service) VerifyOAuthAuth(ctx context.Context, sessionID, stateToken, provider, subject, email string) (*Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusPending {
		return nil, ErrSessionNotPending
	}
	if session.Provider != provider {
		return nil, ErrProviderMismatch
	}

	payload, err := verifyOAuthState(s.Config.OAuthStateSecret, stateToken)
	if err != nil {
		return nil, err
	}
	if payload.SID != session.ID {
		return nil, ErrInvalidStateToken
	}

	session.Subject = subject
	if email != "" {
		session.Email = strings.ToLower(strings.TrimSpace(email))
	}
	session.Status = StatusVerified
	session.VerifiedAt = nowISO()
	if err := s.Store.SaveSession(ctx, *session); err != nil {
		return nil, fmt.Errorf("auth: failed to persist verified session: %w", err)
	}
	return session, nil
}

// StartRecovery mints a single-use recovery token for the most recently
// verified session belonging to email.
func (s *Service) StartRecovery(ctx context.Context, email string) (*RecoveryToken, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	source, found, err := s.Store.FindMostRecentVerifiedByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("auth: failed to look up verified sessions: %w", err)
	}
	if !found {
		return nil, "", ErrNoVerifiedSession
	}

	raw, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	token := "recover_" + raw
	rec := RecoveryToken{
		ID:              uuid.NewString(),
		SourceSessionID: source.ID,
		Email:           email,
		TokenHash:       recoveryTokenHash(s.Config.RecoverySecret, token),
		ExpiresAt:       expiryISO(s.Config.recoveryTTL()),
		CreatedAt:       nowISO(),
	}
	if err := s.Store.SaveRecoveryToken(ctx, rec); err != nil {
		return nil, "", fmt.Errorf("auth: failed to save recovery token: %w", err)
	}
	return &rec, token, nil
}

// RecoverWithToken redeems a single-use recovery token, creating a fresh
// verified session that inherits the source session's identity fields.
func (s *Service) RecoverWithToken(ctx context.Context, token string) (*Session, error) {
	s.recoveryMu.Lock()
	defer s.recoveryMu.Unlock()

	hash := recoveryTokenHash(s.Config.RecoverySecret, token)
	rec, found, err := s.Store.FindRecoveryTokenByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to look up recovery token: %w", err)
	}
	if !found {
		return nil, ErrRecoveryTokenInvalid
	}
	if rec.ConsumedAt != "" {
		return nil, ErrRecoveryTokenInvalid
	}
	expiresAt, err := parseISO(rec.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("auth: malformed recovery token expiry: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, ErrRecoveryTokenExpired
	}

	source, found, err := s.Store.GetSession(ctx, rec.SourceSessionID)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to load source session: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	rec.ConsumedAt = nowISO()
	if err := s.Store.SaveRecoveryToken(ctx, *rec); err != nil {
		return nil, fmt.Errorf("auth: failed to mark recovery token consumed: %w", err)
	}

	newSession := Session{
		ID:         uuid.NewString(),
		Method:     source.Method,
		Status:     StatusVerified,
		Email:      source.Email,
		Name:       source.Name,
		Provider:   source.Provider,
		Subject:    source.Subject,
		CreatedAt:  nowISO(),
		VerifiedAt: nowISO(),
		ExpiresAt:  expiryISO(s.Config.sessionTTL()),
	}
	if err := s.Store.SaveSession(ctx, newSession); err != nil {
		return nil, fmt.Errorf("auth: failed to save recovered session: %w", err)
	}
	return &newSession, nil
}

// LinkSessionToUser binds a verified session's identity to an opaque user
// id. An existing link for the same userId is overwritten (spec §4.9).
func (s *Service) LinkSessionToUser(ctx context.Context, sessionID, userID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusVerified {
		return ErrSessionNotVerified
	}
	if err := s.Store.SaveUserLink(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("auth: failed to save user link: %w", err)
	}
	return nil
}
