package tool

import (
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stippi/code-assistant/internal/agent"
	"github.com/stippi/code-assistant/internal/logging"
	"github.com/stippi/code-assistant/internal/storage"
)

// entry pairs a registered tool with its registry-side metadata.
type entry struct {
	tool Tool
	meta Meta
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	workDir string
	storage *storage.Storage
}

// NewRegistry creates a new tool registry.
func NewRegistry(workDir string, store *storage.Storage) *Registry {
	return &Registry{
		tools:   make(map[string]*entry),
		workDir: workDir,
		storage: store,
	}
}

// Storage returns the storage instance.
func (r *Registry) Storage() *storage.Storage {
	return r.storage
}

// Register adds a tool to the registry with DefaultMeta.
func (r *Registry) Register(t Tool) {
	r.RegisterWithMeta(t, DefaultMeta)
}

// RegisterWithMeta adds a tool to the registry with explicit scope
// metadata.
func (r *Registry) RegisterWithMeta(t Tool, meta Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.Debug().Str("component", "registry").Str("tool", t.ID()).Msg("registering tool")
	r.tools[t.ID()] = &entry{tool: t, meta: meta}
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Meta returns the registered metadata for a tool, or the zero Meta
// and false if the tool is not registered.
func (r *Registry) Meta(id string) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return Meta{}, false
	}
	return e.meta, true
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	return tools
}

// ListForScope returns every non-hidden tool whose Meta permits the
// given scope. Sub-agent views use this to exclude privileged tools
// (e.g. execute_command is absent from ScopeSubAgentReadOnly).
func (r *Registry) ListForScope(s Scope) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		if e.meta.Hidden {
			continue
		}
		if e.meta.InScope(s) {
			tools = append(tools, e.tool)
		}
	}
	return tools
}

// IDs returns all tool IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	return ids
}

// EinoTools returns Eino-compatible tools for the given scope.
func (r *Registry) EinoTools(s Scope) []einotool.BaseTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]einotool.BaseTool, 0, len(r.tools))
	for _, e := range r.tools {
		if e.meta.Hidden || !e.meta.InScope(s) {
			continue
		}
		tools = append(tools, e.tool.EinoTool())
	}
	return tools
}

// ToolInfos returns Eino tool infos for tools visible in the given
// scope.
func (r *Registry) ToolInfos(s Scope) ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, e := range r.tools {
		if e.meta.Hidden || !e.meta.InScope(s) {
			continue
		}
		params := parseJSONSchemaToParams(e.tool.Parameters())
		infos = append(infos, &schema.ToolInfo{
			Name:        e.tool.ID(),
			Desc:        e.tool.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos, nil
}

// DefaultRegistry creates a registry with all built-in tools, each
// tagged with the scopes the specification grants it.
func DefaultRegistry(workDir string, store *storage.Storage) *Registry {
	logging.Debug().Str("component", "registry").Str("work_dir", workDir).Msg("creating default registry")
	r := NewRegistry(workDir, store)

	// Read-only tools: offered in every scope, including read-only
	// sub-agents and MCP server exposure.
	r.RegisterWithMeta(NewReadTool(workDir), ReadOnlyMeta())
	r.RegisterWithMeta(NewGlobTool(workDir), ReadOnlyMeta())
	r.RegisterWithMeta(NewGrepTool(workDir), ReadOnlyMeta())
	r.RegisterWithMeta(NewListTool(workDir), ReadOnlyMeta())
	r.RegisterWithMeta(NewWebFetchTool(workDir), ReadOnlyMeta())
	r.RegisterWithMeta(NewTodoReadTool(workDir, store), ReadOnlyMeta())
	r.RegisterWithMeta(NewNameSessionTool(store), ReadOnlyMeta())
	r.RegisterWithMeta(NewMemoryTool(), ReadOnlyMeta())

	// Write/execute tools: full agent scopes only, never offered to a
	// read-only sub-agent.
	r.Register(NewWriteTool(workDir))
	r.Register(NewEditTool(workDir))
	r.Register(NewBashTool(workDir))
	r.Register(NewTodoWriteTool(workDir, store))

	// Batch looks its inner tools up by name in the whole registry,
	// without a scope check, so it carries the default write-capable scopes.
	r.Register(NewBatchTool(workDir, r))

	// Note: TaskTool requires an agent registry; register separately
	// via RegisterTaskTool once that registry exists.

	logging.Debug().Str("component", "registry").Int("count", len(r.tools)).Strs("tools", r.IDs()).Msg("default registry created")
	return r
}

// RegisterTaskTool registers the task tool with the given agent registry.
// This must be called separately after the agent registry is available.
// The task tool is itself excluded from the view it hands to the
// sub-agent it spawns: a sub-agent never sees task/spawn_agent, which
// is how the specification's no-self-nesting rule is enforced.
func (r *Registry) RegisterTaskTool(agentReg *agent.Registry) {
	taskTool := NewTaskTool(r.workDir, agentReg)
	r.Register(taskTool)
	logging.Debug().Str("component", "registry").Msg("registered task tool")
}

// SetTaskExecutor sets the executor for the task tool.
// This enables actual subagent execution instead of placeholder responses.
func (r *Registry) SetTaskExecutor(executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tools["Task"]; ok {
		if taskTool, ok := e.tool.(*TaskTool); ok {
			taskTool.SetExecutor(executor)
			logging.Debug().Str("component", "registry").Msg("task executor configured")
		}
	}
}
