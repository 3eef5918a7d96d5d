package identity

// Built-in agent ids.
const (
	OrchestratorID  AgentID = "orchestrator"
	TechSupportID   AgentID = "tech_support"
	FileProcessorID AgentID = "file_processor"
	FinanceID       AgentID = "finance"
	SecurityAdminID AgentID = "security_admin"
)

func mustIdentity(id AgentID, name string, level PrivilegeLevel, origin Origin) AgentIdentity {
	a, err := NewAgentIdentity(id, name, level, origin)
	if err != nil {
		panic(err)
	}
	return a
}

// Orchestrator is the mediating service identity that routes end-user
// requests to agents.
func Orchestrator() AgentIdentity {
	return mustIdentity(OrchestratorID, "Request Orchestrator", System, OriginService)
}

// DefaultAgents returns the built-in call targets.
func DefaultAgents() []Agent {
	return []Agent{
		{
			Identity:      mustIdentity(TechSupportID, "Tech Support Agent", Low, OriginAgent),
			RequiredLevel: Low,
			Description:   "general questions and troubleshooting",
		},
		{
			Identity:      mustIdentity(FileProcessorID, "File Processor Agent", Medium, OriginAgent),
			RequiredLevel: Medium,
			Description:   "analysis of uploaded documents",
		},
		{
			Identity:      mustIdentity(FinanceID, "Finance Agent", High, OriginAgent),
			RequiredLevel: High,
			Description:   "account, billing and payment operations",
		},
	}
}

// NewDefaultRegistry registers the built-in agents.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range DefaultAgents() {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// SecurityAdmin is the identity behind the admin API token. It issues and
// revokes delegation grants.
func SecurityAdmin() AgentIdentity {
	return mustIdentity(SecurityAdminID, "Security Administrator", Admin, OriginEndUser)
}
