package tool

import "errors"

// Sentinel errors for comparison with errors.Is. Dispatch returns
// ErrUnknownTool and ErrBadInput (wrapped), alongside a Result that
// carries the same error.
var (
	// ErrUnknownTool is returned when a tool name has no registered
	// implementation in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrBadInput is returned when a tool's input is not valid JSON.
	// Input that is valid JSON but has the wrong shape is reported by
	// the tool itself and folded into the Result instead.
	ErrBadInput = errors.New("bad tool input")

	// ErrSessionBusy names a message or tool invocation attempted while a
	// session is not Idle. No code in this repository returns it.
	ErrSessionBusy = errors.New("session busy")

	// ErrSubAgentNestingDisallowed names a sub-agent attempting to spawn
	// another sub-agent. No code in this repository returns it.
	ErrSubAgentNestingDisallowed = errors.New("sub-agent nesting disallowed")
)
