package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stippi/code-assistant/internal/logging"
)

// AnyOutput is a type-erased wrapper around a tool's structured result,
// carried alongside the rendered text so callers that need the raw
// fields (e.g. a UI wanting to render a diff) do not have to re-parse
// Result.Output.
type AnyOutput struct {
	Result *Result
	Raw    json.RawMessage
}

// Dispatch looks a tool up by name, deserializes the raw JSON input,
// invokes it with toolCtx, and wraps the output. It never panics: a
// missing tool or malformed input is reported as a semantic Result
// (IsError=true via Result.Error), not a crash. The (error) return is
// reserved for the two dispatch-level failures a caller may want to
// distinguish with errors.Is: ErrUnknownTool and ErrBadInput. Both are
// also reflected in the returned *Result so a caller that ignores the
// error still gets a renderable ToolResult.
func Dispatch(ctx context.Context, reg *Registry, name string, input json.RawMessage, toolCtx *Context) (*AnyOutput, error) {
	t, ok := reg.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return &AnyOutput{Result: &Result{
			Title:  name,
			Output: err.Error(),
			Error:  err,
		}}, err
	}

	if !json.Valid(input) {
		err := fmt.Errorf("%w: %s: input is not valid JSON", ErrBadInput, name)
		return &AnyOutput{Result: &Result{
			Title:  name,
			Output: err.Error(),
			Error:  err,
		}}, err
	}

	logging.Debug().Str("component", "dispatch").Str("tool", name).Msg("invoking tool")

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		// A Go error from Execute is still a semantic tool failure, not
		// a dispatch failure: fold it into the Result rather than
		// propagating ErrBadInput/ErrUnknownTool-style sentinels.
		logging.Error().Str("component", "dispatch").Str("tool", name).Err(err).Msg("tool execution failed")
		if result == nil {
			result = &Result{Title: name}
		}
		result.Output = err.Error()
		result.Error = err
		return &AnyOutput{Result: result}, nil
	}

	raw, _ := json.Marshal(result.Metadata)
	return &AnyOutput{Result: result, Raw: raw}, nil
}
