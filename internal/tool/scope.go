package tool

// Scope labels a context in which a tool is offered to an LLM: the
// top-level agent, a sub-agent, or an MCP server exposing the registry.
type Scope string

const (
	ScopeAgent              Scope = "agent"
	ScopeAgentWithDiffBlocks Scope = "agent_diff_blocks"
	ScopeSubAgentReadOnly    Scope = "sub_agent_read_only"
	ScopeSubAgentDefault     Scope = "sub_agent_default"
	ScopeMcpServer           Scope = "mcp_server"
)

// Meta is the static registry-side metadata for a tool: the scopes it is
// offered in, whether it is hidden from documentation, and its UI title
// template. Tool implementations stay focused on Execute(); Meta is kept
// separately so built-in tools need no interface change to participate in
// scope filtering.
type Meta struct {
	Scopes        []Scope
	Hidden        bool
	TitleTemplate string
	ReadOnly      bool
	Idempotent    bool
}

// InScope reports whether m permits offering the tool in scope s.
func (m Meta) InScope(s Scope) bool {
	for _, sc := range m.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// DefaultMeta is used for tools registered without explicit metadata: the
// top-level agent scopes and MCP server exposure, but not read-only
// sub-agents; nothing hidden, no title template.
var DefaultMeta = Meta{
	Scopes: []Scope{ScopeAgent, ScopeAgentWithDiffBlocks, ScopeMcpServer},
}

// ReadOnlyMeta is used for tools on the read-tool allow-list: offered
// everywhere, including read-only sub-agents.
func ReadOnlyMeta() Meta {
	return Meta{
		Scopes:   []Scope{ScopeAgent, ScopeAgentWithDiffBlocks, ScopeSubAgentReadOnly, ScopeSubAgentDefault, ScopeMcpServer},
		ReadOnly: true,
	}
}
