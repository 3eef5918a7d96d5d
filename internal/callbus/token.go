package callbus

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warden/internal/identity"
)

// CapabilityToken authorizes exactly one call from Subject to Audience.
//
// GrantedLevel never exceeds the subject's own level. When the call was
// admitted through a delegation grant, GrantID names it and GrantedLevel is
// the subject's own level; the grant, not the token, carries the elevated
// authority.
type CapabilityToken struct {
	Subject      identity.AgentID
	Origin       identity.Origin
	GrantedLevel identity.PrivilegeLevel
	Audience     identity.AgentID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Nonce        string
	GrantID      string
	Signature    []byte
}

type tokenClaims struct {
	Level   string `json:"lvl"`
	Origin  string `json:"org"`
	GrantID string `json:"dlg,omitempty"`
	jwt.RegisteredClaims
}

func (t CapabilityToken) claims() tokenClaims {
	return tokenClaims{
		Level:   t.GrantedLevel.String(),
		Origin:  string(t.Origin),
		GrantID: t.GrantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(t.Subject),
			Audience:  jwt.ClaimStrings{string(t.Audience)},
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
			ID:        t.Nonce,
		},
	}
}

// signingString is the canonical header.claims form the MAC covers. It is
// rebuilt from the fields on every verification, so a token whose header or
// claim encoding was altered in transit fails the MAC.
func (t CapabilityToken) signingString() (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, t.claims()).SigningString()
}

func (t CapabilityToken) sign(key []byte) (CapabilityToken, error) {
	ss, err := t.signingString()
	if err != nil {
		return CapabilityToken{}, fmt.Errorf("encode token claims: %w", err)
	}
	sig, err := jwt.SigningMethodHS256.Sign(ss, key)
	if err != nil {
		return CapabilityToken{}, fmt.Errorf("sign token: %w", err)
	}
	t.Signature = sig
	return t, nil
}

func (t CapabilityToken) verify(key []byte) error {
	if len(t.Signature) == 0 {
		return ErrBadSignature
	}
	ss, err := t.signingString()
	if err != nil {
		return ErrBadSignature
	}
	if err := jwt.SigningMethodHS256.Verify(ss, t.Signature, key); err != nil {
		return ErrBadSignature
	}
	return nil
}

// Expired reports whether the token is past its expiry at now. It does not
// consult the signature.
func (t CapabilityToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Encode returns the compact JWS form of t.
func (t CapabilityToken) Encode() (string, error) {
	ss, err := t.signingString()
	if err != nil {
		return "", fmt.Errorf("encode token claims: %w", err)
	}
	return ss + "." + base64.RawURLEncoding.EncodeToString(t.Signature), nil
}

// errMalformedToken wraps ErrBadSignature: a token that cannot be decoded is
// rejected the same way as one whose MAC fails.
var errMalformedToken = fmt.Errorf("malformed capability token: %w", ErrBadSignature)

// ParseToken decodes a compact token without verifying it. Verification is
// Admit's job, in its fixed check order.
func ParseToken(raw string) (CapabilityToken, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &tokenClaims{}
	_, parts, err := parser.ParseUnverified(strings.TrimSpace(raw), claims)
	if err != nil {
		return CapabilityToken{}, fmt.Errorf("%w: %w", errMalformedToken, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return CapabilityToken{}, fmt.Errorf("%w: signature segment: %w", errMalformedToken, err)
	}
	level, err := identity.ParsePrivilegeLevel(claims.Level)
	if err != nil {
		return CapabilityToken{}, fmt.Errorf("%w: %w", errMalformedToken, err)
	}
	if len(claims.Audience) != 1 || claims.IssuedAt == nil || claims.ExpiresAt == nil || claims.ID == "" || claims.Subject == "" {
		return CapabilityToken{}, fmt.Errorf("%w: missing claims", errMalformedToken)
	}
	return CapabilityToken{
		Subject:      identity.AgentID(claims.Subject),
		Origin:       identity.Origin(claims.Origin),
		GrantedLevel: level,
		Audience:     identity.AgentID(claims.Audience[0]),
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
		Nonce:        claims.ID,
		GrantID:      claims.GrantID,
		Signature:    sig,
	}, nil
}
