package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const memoryToolDescription = `Read or write a small per-session working-memory scratchpad. Use this to jot down facts you'll need again later in the conversation (file paths, decisions, todo-style reminders) instead of re-deriving them from scrollback. This is scratch space, not persistent storage: it is cleared when the session is deleted and is not visible across sessions.`

// MemoryTool lets the model read/write its own session's working-memory
// scratchpad (tool.Context.WorkingMemory), supplementing the todo list
// (todoread.go/todowrite.go) with unstructured key/value notes.
type MemoryTool struct{}

// NewMemoryTool creates a new memory tool.
func NewMemoryTool() *MemoryTool {
	return &MemoryTool{}
}

// MemoryInput is the input for the memory tool.
type MemoryInput struct {
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
}

func (t *MemoryTool) ID() string          { return "memory" }
func (t *MemoryTool) Description() string { return memoryToolDescription }

func (t *MemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["get", "set", "list"],
				"description": "get a key, set a key to a value, or list all stored keys"
			},
			"key": {
				"type": "string",
				"description": "Key to get or set. Required for get/set."
			},
			"value": {
				"type": "string",
				"description": "Value to store. Required for set."
			}
		},
		"required": ["action"]
	}`)
}

func (t *MemoryTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params MemoryInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if toolCtx.WorkingMemory == nil {
		return &Result{Error: fmt.Errorf("working memory unavailable"), Output: "working memory unavailable in this context"}, nil
	}

	switch params.Action {
	case "get":
		if params.Key == "" {
			return &Result{Error: fmt.Errorf("key is required"), Output: "key is required for get"}, nil
		}
		value, ok := toolCtx.WorkingMemory.Get(params.Key)
		if !ok {
			return &Result{Title: fmt.Sprintf("memory: %s not set", params.Key), Output: ""}, nil
		}
		return &Result{Title: fmt.Sprintf("memory: %s", params.Key), Output: value}, nil

	case "set":
		if params.Key == "" {
			return &Result{Error: fmt.Errorf("key is required"), Output: "key is required for set"}, nil
		}
		toolCtx.WorkingMemory.Set(params.Key, params.Value)
		return &Result{Title: fmt.Sprintf("memory: set %s", params.Key), Output: "stored"}, nil

	case "list":
		all := toolCtx.WorkingMemory.All()
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &Result{Title: "memory keys", Output: strings.Join(keys, "\n")}, nil

	default:
		return &Result{Error: fmt.Errorf("unknown action: %s", params.Action), Output: fmt.Sprintf("unknown action: %s", params.Action)}, nil
	}
}

func (t *MemoryTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
