package parser

// Filter truncates an LLM response by disallowing further tools or
// trailing text, implementing the at-most-one-tool-per-turn policy (or a
// smart chaining variant) entirely inside the parser — the turn loop
// itself never counts tools.
type Filter interface {
	// AllowToolAtPosition reports whether the tool named name, the
	// index'th tool request seen in this response (0-based), may be
	// parsed at all.
	AllowToolAtPosition(name string, index int) bool

	// AllowContentAfterTool reports whether text/thinking content
	// following the index'th tool request may still be emitted.
	AllowContentAfterTool(name string, index int) bool
}

// readTools is the static allow-list of tools considered read-only for
// filtering purposes.
var readTools = map[string]bool{
	"read_files":    true,
	"list_files":    true,
	"search_files":  true,
	"web_fetch":     true,
	"web_search":    true,
	"list_projects": true,
	"name_session":  true,
}

// IsReadTool reports whether name is on the static read-tool allow-list.
func IsReadTool(name string) bool {
	return readTools[name]
}

// SingleTool allows exactly one tool per response and no trailing text.
type SingleTool struct{}

func (SingleTool) AllowToolAtPosition(name string, index int) bool { return index == 0 }
func (SingleTool) AllowContentAfterTool(name string, index int) bool { return false }

// Unlimited allows any number of tools and always allows trailing text.
type Unlimited struct{}

func (Unlimited) AllowToolAtPosition(name string, index int) bool   { return true }
func (Unlimited) AllowContentAfterTool(name string, index int) bool { return true }

// Smart allows the first tool unconditionally; a later tool is allowed
// only if every tool seen so far (including this one) is a read tool;
// once a write tool appears, nothing further (tool or text) is emitted.
type Smart struct {
	// seenWrite tracks whether a non-read tool has already been allowed.
	seenWrite bool
}

func (s *Smart) AllowToolAtPosition(name string, index int) bool {
	if s.seenWrite {
		return false
	}
	if index == 0 {
		if !IsReadTool(name) {
			s.seenWrite = true
		}
		return true
	}
	if !IsReadTool(name) {
		// A later write tool is never allowed - only the first tool may
		// write; subsequent tools are allowed only while every prior tool
		// (and this one) is a read tool.
		return false
	}
	return true
}

func (s *Smart) AllowContentAfterTool(name string, index int) bool {
	// Text after a tool is allowed iff the last tool allowed was a read.
	return IsReadTool(name) && !s.seenWrite
}

// NewSmart returns a fresh Smart filter instance. Smart carries state
// across calls within one response, so each response needs its own
// instance.
func NewSmart() *Smart { return &Smart{} }
