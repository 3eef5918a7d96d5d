package delegation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warden/internal/identity"
)

const (
	DefaultTTL = 5 * time.Minute
	MaxTTL     = 15 * time.Minute
)

// Grant lets one caller invoke one target at up to MaxLevel although the
// caller's own level is lower. Grants are issued by an administrator, name
// the exact pair, carry a mandatory reason and expire quickly.
type Grant struct {
	ID        string                  `json:"id"`
	Caller    identity.AgentID        `json:"caller"`
	Target    identity.AgentID        `json:"target"`
	MaxLevel  identity.PrivilegeLevel `json:"max_level"`
	Reason    string                  `json:"reason"`
	IssuedBy  identity.AgentID        `json:"issued_by"`
	IssuedAt  time.Time               `json:"issued_at"`
	ExpiresAt time.Time               `json:"expires_at"`
	RevokedAt *time.Time              `json:"revoked_at,omitempty"`
	Signature []byte                  `json:"-"`
}

// ActiveAt reports whether g is unrevoked and unexpired at now.
func (g *Grant) ActiveAt(now time.Time) bool {
	return g.RevokedAt == nil && now.Before(g.ExpiresAt)
}

// Covers reports whether g authorizes caller to reach target at level.
func (g *Grant) Covers(caller, target identity.AgentID, level identity.PrivilegeLevel, now time.Time) bool {
	return g.Caller == caller &&
		g.Target == target &&
		identity.Meets(g.MaxLevel, level) &&
		g.ActiveAt(now)
}

type grantClaims struct {
	Caller   string `json:"caller"`
	Target   string `json:"target"`
	MaxLevel string `json:"lvl"`
	Reason   string `json:"reason"`
	jwt.RegisteredClaims
}

// signingString covers every field except RevokedAt, which only ever
// narrows a grant.
func (g *Grant) signingString() (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, grantClaims{
		Caller:   string(g.Caller),
		Target:   string(g.Target),
		MaxLevel: g.MaxLevel.String(),
		Reason:   g.Reason,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        g.ID,
			Issuer:    string(g.IssuedBy),
			IssuedAt:  jwt.NewNumericDate(g.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
		},
	}).SigningString()
}

func (g *Grant) seal(key []byte) error {
	ss, err := g.signingString()
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	sig, err := jwt.SigningMethodHS256.Sign(ss, key)
	if err != nil {
		return fmt.Errorf("sign grant: %w", err)
	}
	g.Signature = sig
	return nil
}

// verify detects grants altered after issuance, for example a stored row
// whose max level or expiry was edited.
func (g *Grant) verify(key []byte) bool {
	if len(g.Signature) == 0 {
		return false
	}
	ss, err := g.signingString()
	if err != nil {
		return false
	}
	return jwt.SigningMethodHS256.Verify(ss, g.Signature, key) == nil
}

func (g *Grant) clone() *Grant {
	c := *g
	if g.RevokedAt != nil {
		at := *g.RevokedAt
		c.RevokedAt = &at
	}
	c.Signature = append([]byte(nil), g.Signature...)
	return &c
}
