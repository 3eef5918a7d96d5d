package identity

import (
	"fmt"
	"strings"

	dErrors "warden/pkg/domain-errors"
)

// Origin classifies who an identity acts for.
type Origin string

const (
	OriginEndUser Origin = "END_USER"
	OriginAgent   Origin = "AGENT"
	OriginService Origin = "SERVICE"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginEndUser, OriginAgent, OriginService:
		return true
	}
	return false
}

// AgentID is the stable, unique identifier of an agent.
type AgentID string

// AgentIdentity is immutable once created. Trust is never a property an
// identity asserts about itself; it only carries the level assigned at
// creation.
type AgentIdentity struct {
	id     AgentID
	name   string
	level  PrivilegeLevel
	origin Origin
}

// NewAgentIdentity validates and builds an identity. Every field is required.
func NewAgentIdentity(id AgentID, displayName string, level PrivilegeLevel, origin Origin) (AgentIdentity, error) {
	if strings.TrimSpace(string(id)) == "" {
		return AgentIdentity{}, dErrors.New(dErrors.CodeInvariantViolation, "agent id is required")
	}
	if strings.TrimSpace(displayName) == "" {
		return AgentIdentity{}, dErrors.New(dErrors.CodeInvariantViolation, "display name is required")
	}
	if !level.Valid() {
		return AgentIdentity{}, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("invalid privilege level %d", int(level)))
	}
	if !origin.Valid() {
		return AgentIdentity{}, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("invalid origin %q", origin))
	}
	return AgentIdentity{id: id, name: displayName, level: level, origin: origin}, nil
}

func (a AgentIdentity) ID() AgentID                    { return a.id }
func (a AgentIdentity) DisplayName() string            { return a.name }
func (a AgentIdentity) PrivilegeLevel() PrivilegeLevel { return a.level }
func (a AgentIdentity) Origin() Origin                 { return a.origin }

// IsZero reports whether a was never constructed.
func (a AgentIdentity) IsZero() bool { return a.id == "" }

func (a AgentIdentity) String() string {
	return fmt.Sprintf("%s(%s,%s)", a.id, a.level, a.origin)
}
