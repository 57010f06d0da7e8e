package parser

import "encoding/json"

// ToolRequest is a completed tool invocation parsed out of assistant
// output. StartOffset/EndOffset locate the request in the originating
// assistant text and are nil for the Native syntax, which carries no
// textual offsets (see SPEC_FULL.md open question on Native offsets).
type ToolRequest struct {
	ID          string
	Name        string
	Input       json.RawMessage
	StartOffset *int
	EndOffset   *int
}

// ParseError records raw text that did not parse into well-formed tags
// (mismatched close, unknown tag, ...). Parsers collect these and expose
// them through ParseErrors(); they are not turned into ToolRequests, and
// no tool result is produced for them.
type ParseError struct {
	Raw     string
	Message string
}
