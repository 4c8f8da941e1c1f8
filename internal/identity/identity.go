// Package identity binds a verified beneficiary identity to an on-chain
// retirement reason, and recovers it later without trusting the chain for
// identity storage — the chain only ever sees a base64url-encoded tag
// appended to the free-text retirement reason.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Method is the tagged-union discriminator for an IdentityAttribution.
type Method string

const (
	MethodNone   Method = "none"
	MethodManual Method = "manual"
	MethodEmail  Method = "email"
	MethodOAuth  Method = "oauth"
)

// Attribution is the identity attached to a single retirement.
type Attribution struct {
	Method   Method `json:"method"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

// encodedAttribution is the versioned wire shape embedded in the reason tag.
type encodedAttribution struct {
	V        int    `json:"v"`
	Method   Method `json:"method"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

const currentVersion = 1

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var validMethods = map[Method]bool{
	MethodNone:   true,
	MethodManual: true,
	MethodEmail:  true,
	MethodOAuth:  true,
}

// CaptureInput is the raw, caller-supplied identity data before normalization.
type CaptureInput struct {
	Method   Method
	Name     string
	Email    string
	Provider string
	Subject  string
}

// CaptureIdentity normalizes a raw identity capture: strings are trimmed,
// emails lowercased and validated, provider/subject must both be present
// or both absent. Precedence when Method is left unspecified/ambiguous is
// resolved by the caller choosing the Method explicitly; this function only
// validates and normalizes the chosen method's required fields.
func CaptureIdentity(input CaptureInput) (Attribution, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	provider := strings.TrimSpace(input.Provider)
	subject := strings.TrimSpace(input.Subject)

	switch input.Method {
	case "", MethodNone:
		return Attribution{Method: MethodNone}, nil

	case MethodManual:
		return Attribution{Method: MethodManual, Name: name}, nil

	case MethodEmail:
		if email == "" {
			return Attribution{}, errors.New("identity: email is required for method=email")
		}
		if !emailPattern.MatchString(email) {
			return Attribution{}, fmt.Errorf("identity: invalid email %q", email)
		}
		return Attribution{Method: MethodEmail, Name: name, Email: email}, nil

	case MethodOAuth:
		if provider == "" || subject == "" {
			return Attribution{}, errors.New("identity: provider and subject are both required for method=oauth")
		}
		if email != "" && !emailPattern.MatchString(email) {
			return Attribution{}, fmt.Errorf("identity: invalid email %q", email)
		}
		return Attribution{Method: MethodOAuth, Name: name, Email: email, Provider: provider, Subject: subject}, nil

	default:
		return Attribution{}, fmt.Errorf("identity: unknown method %q", input.Method)
	}
}

// Precedence returns the attribution with the highest precedence among the
// given candidates: oauth > email > manual > none.
func Precedence(candidates ...Attribution) Attribution {
	rank := map[Method]int{MethodOAuth: 3, MethodEmail: 2, MethodManual: 1, MethodNone: 0}
	best := Attribution{Method: MethodNone}
	bestRank := -1
	for _, c := range candidates {
		if r := rank[c.Method]; r > bestRank {
			best = c
			bestRank = r
		}
	}
	return best
}

var reasonTagPattern = regexp.MustCompile(`\s*\[identity:([A-Za-z0-9\-_]+)\]\s*$`)

// EncodeReason appends the base64url-encoded identity tag to baseReason.
// When identity.Method is none (or zero-valued), baseReason is returned
// unchanged.
func EncodeReason(baseReason string, identity Attribution) string {
	if identity.Method == "" || identity.Method == MethodNone {
		return baseReason
	}

	payload := encodedAttribution{
		V:        currentVersion,
		Method:   identity.Method,
		Name:     identity.Name,
		Email:    identity.Email,
		Provider: identity.Provider,
		Subject:  identity.Subject,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Encoding a well-formed struct to JSON cannot fail; if it somehow
		// did, degrade to an unattributed reason rather than panic.
		return baseReason
	}
	tag := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	return fmt.Sprintf("%s [identity:%s]", baseReason, tag)
}

// ParseAttributedReason recovers (reasonText, identity) from a raw on-chain
// reason string. Malformed or forged tags never error — they degrade to
// {reasonText: rawReason, identity: zero-value Attribution with Method
// MethodNone, ok: false}.
func ParseAttributedReason(rawReason string) (reasonText string, identity Attribution, ok bool) {
	match := reasonTagPattern.FindStringSubmatchIndex(rawReason)
	if match == nil {
		return rawReason, Attribution{Method: MethodNone}, false
	}

	tag := rawReason[match[2]:match[3]]
	reasonText = rawReason[:match[0]]

	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(tag)
	if err != nil {
		return rawReason, Attribution{Method: MethodNone}, false
	}

	var payload encodedAttribution
	if err := json.Unmarshal(raw, &payload); err != nil {
		return rawReason, Attribution{Method: MethodNone}, false
	}
	if payload.V != currentVersion || !validMethods[payload.Method] {
		return rawReason, Attribution{Method: MethodNone}, false
	}

	normalized, err := CaptureIdentity(CaptureInput{
		Method:   payload.Method,
		Name:     payload.Name,
		Email:    payload.Email,
		Provider: payload.Provider,
		Subject:  payload.Subject,
	})
	if err != nil {
		return rawReason, Attribution{Method: MethodNone}, false
	}

	return reasonText, normalized, true
}
