package types

import "encoding/json"

// Message represents either a User or Assistant message in a conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	ParentID  string      `json:"parentID,omitempty"`
	Time      MessageTime `json:"time"`

	// User-specific fields
	Agent  string          `json:"agent,omitempty"`
	Model  *ModelRef       `json:"model,omitempty"`
	System *string         `json:"system,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`
	// Summary carries a user message's compaction summary as an object.
	// Marshaled under the same "summary" key as IsSummary; see MarshalJSON.
	Summary *UserMessageSummary `json:"-"`

	// Assistant-specific fields
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	// IsSummary marks an assistant message as a compaction summary.
	// Marshaled under the same "summary" key as Summary; see MarshalJSON.
	IsSummary bool `json:"-"`

	// Path carries the working directory this message was produced in,
	// so tool calls originating from it resolve relative paths correctly.
	Path *MessagePath `json:"path,omitempty"`
}

// MessagePath carries the working directory context for a message.
type MessagePath struct {
	Cwd  string `json:"cwd"`
	Root string `json:"root"`
}

// UserMessageSummary is a user message's compaction marker: a title/body
// plus the file diffs accumulated up to the point of compaction.
type UserMessageSummary struct {
	Title string     `json:"title"`
	Body  string     `json:"body"`
	Diffs []FileDiff `json:"diffs,omitempty"`
}

// MarshalJSON emits "summary" as an object for a user message's
// UserMessageSummary, or as a bool for an assistant compaction marker,
// matching the SDK's single polymorphic "summary" field.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	aux := struct {
		alias
		Summary any `json:"summary,omitempty"`
	}{alias: alias(m)}

	switch {
	case m.Role == "user" && m.Summary != nil:
		aux.Summary = m.Summary
	case m.Role == "assistant" && m.IsSummary:
		aux.Summary = true
	}

	return json.Marshal(aux)
}

// UnmarshalJSON reads "summary" back as either an object (user) or a bool
// (assistant), the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Summary json.RawMessage `json:"summary,omitempty"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Summary) == 0 {
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(aux.Summary, &asBool); err == nil {
		m.IsSummary = asBool
		return nil
	}

	var asSummary UserMessageSummary
	if err := json.Unmarshal(aux.Summary, &asSummary); err == nil {
		m.Summary = &asSummary
	}
	return nil
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Type    string `json:"type"` // "api" | "abort" | "max_steps" | "output_length" | "unknown"
	Message string `json:"message"`
}
