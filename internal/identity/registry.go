package identity

import (
	"fmt"
	"sort"
	"sync"

	"warden/pkg/platform/sentinel"
)

// Agent is a registered call target together with the minimum level a
// caller must hold to invoke it.
type Agent struct {
	Identity      AgentIdentity
	RequiredLevel PrivilegeLevel
	Description   string
}

// Registry holds the agents known to the call bus. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[AgentID]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[AgentID]Agent)}
}

// Register adds an agent. Duplicate ids are rejected.
func (r *Registry) Register(agent Agent) error {
	if agent.Identity.IsZero() {
		return fmt.Errorf("register agent: identity is required: %w", sentinel.ErrInvalidState)
	}
	if !agent.RequiredLevel.Valid() {
		return fmt.Errorf("register agent %s: invalid required level: %w", agent.Identity.ID(), sentinel.ErrInvalidState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.Identity.ID()]; exists {
		return fmt.Errorf("register agent %s: %w", agent.Identity.ID(), sentinel.ErrConflict)
	}
	r.agents[agent.Identity.ID()] = agent
	return nil
}

// Lookup returns the agent with id or sentinel.ErrNotFound.
func (r *Registry) Lookup(id AgentID) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("agent %s: %w", id, sentinel.ErrNotFound)
	}
	return agent, nil
}

// List returns all agents sorted by id.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID() < out[j].Identity.ID() })
	return out
}
