package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/stippi/code-assistant/internal/event"
	"github.com/stippi/code-assistant/internal/storage"
	"github.com/stippi/code-assistant/pkg/types"
)

const nameSessionDescription = `Give the current conversation a short, descriptive title, replacing the default "New Session" placeholder. Use this once you understand what the user is working on, so they can find this conversation again later. Prefer the automatic title unless the user asks you to rename the session or the automatic title is clearly wrong.`

// NameSessionTool lets the model rename its own session, distinct from
// the processor's automatic first-message title generation
// (session.ensureTitle): this is an explicit, model-initiated rename
// that can fire at any point in the conversation, not just on message one.
type NameSessionTool struct {
	storage *storage.Storage
}

// NameSessionInput is the input for the name_session tool.
type NameSessionInput struct {
	Title string `json:"title"`
}

// NewNameSessionTool creates a new name_session tool.
func NewNameSessionTool(store *storage.Storage) *NameSessionTool {
	return &NameSessionTool{storage: store}
}

func (t *NameSessionTool) ID() string          { return "name_session" }
func (t *NameSessionTool) Description() string { return nameSessionDescription }

func (t *NameSessionTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {
				"type": "string",
				"description": "New title for the session, at most 50 characters"
			}
		},
		"required": ["title"]
	}`)
}

func (t *NameSessionTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params NameSessionInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Title == "" {
		return &Result{Error: fmt.Errorf("title must not be empty"), Output: "title must not be empty"}, nil
	}

	// Sessions are stored under ["session", projectID, sessionID]; the
	// tool only has the session ID, so it scans every project the same
	// way session.Service.Get / session.findSession do (avoiding a
	// session package import, which would cycle back to this one).
	projects, err := t.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	var sess *types.Session
	var projectID string
	for _, pid := range projects {
		var candidate types.Session
		if err := t.storage.Get(ctx, []string{"session", pid, toolCtx.SessionID}, &candidate); err == nil {
			sess = &candidate
			projectID = pid
			break
		}
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found: %s", toolCtx.SessionID)
	}

	sess.Title = params.Title
	sess.Time.Updated = time.Now().UnixMilli()

	if err := t.storage.Put(ctx, []string{"session", projectID, sess.ID}, sess); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	event.Publish(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: sess},
	})

	return &Result{
		Title:  fmt.Sprintf("Renamed session to %q", params.Title),
		Output: params.Title,
	}, nil
}

func (t *NameSessionTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
