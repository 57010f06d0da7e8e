package parser

import "encoding/json"

// NativeDelta is one incremental chunk from a provider that emits typed
// ToolUse deltas itself (Anthropic/OpenAI native tool-calling). The session
// package's stream handling adapts eino's schema.Message stream chunks into NativeDelta so
// this package stays independent of any particular provider SDK.
type NativeDelta struct {
	Text      string // incremental plain-text content
	Thinking  string // incremental thinking content
	ToolID    string // set on the chunk(s) that carry a tool delta
	ToolName  string // set once, on the first chunk for a given ToolID
	InputJSON string // incremental JSON fragment for ToolID's input
	ToolEnd   bool   // true on the chunk that closes ToolID's block
}

// NativeParser implements the Native syntax: the provider itself emits
// typed ToolUse deltas; this parser passes text/thinking straight through
// and accumulates InputJSON chunks by tool_id, completing a request when
// the provider signals end-of-block.
type NativeParser struct {
	filter Filter

	toolIdx     int
	open        map[string]*nativeOpenTool
	order       []string
	truncated   bool
	requests    []ToolRequest
	parseErrors []ParseError
}

type nativeOpenTool struct {
	name string
	json string
}

// NewNativeParser creates a streaming Native-syntax parser.
func NewNativeParser(filter Filter) *NativeParser {
	if filter == nil {
		filter = Unlimited{}
	}
	return &NativeParser{filter: filter, open: map[string]*nativeOpenTool{}}
}

// Close force-ends every tool block still open, for providers (like
// eino's streaming adapter) that signal tool completion only through
// the stream's overall finish reason rather than a per-call end marker.
func (p *NativeParser) Close() []Fragment {
	var out []Fragment
	for _, id := range p.order {
		if _, ok := p.open[id]; ok {
			out = append(out, p.Feed(NativeDelta{ToolID: id, ToolEnd: true})...)
		}
	}
	return out
}

func (p *NativeParser) Truncated() bool          { return p.truncated }
func (p *NativeParser) Requests() []ToolRequest   { return p.requests }
func (p *NativeParser) ParseErrors() []ParseError { return p.parseErrors }

// Feed consumes one NativeDelta chunk.
func (p *NativeParser) Feed(d NativeDelta) []Fragment {
	var out []Fragment
	if p.truncated {
		return out
	}

	if d.Text != "" {
		out = append(out, PlainText{Text: d.Text})
	}
	if d.Thinking != "" {
		out = append(out, ThinkingText{Text: d.Thinking})
	}

	if d.ToolID == "" {
		return out
	}

	tool, exists := p.open[d.ToolID]
	if !exists {
		if d.ToolName == "" {
			return out
		}
		if !p.filter.AllowToolAtPosition(d.ToolName, p.toolIdx) {
			p.truncated = true
			return out
		}
		tool = &nativeOpenTool{name: d.ToolName}
		p.open[d.ToolID] = tool
		p.order = append(p.order, d.ToolID)
		out = append(out, ToolName{Name: d.ToolName, ToolID: d.ToolID})
	}

	if d.InputJSON != "" {
		tool.json += d.InputJSON
		out = append(out, ToolParameter{ToolID: d.ToolID, ValueDelta: d.InputJSON})
	}

	if d.ToolEnd {
		raw := json.RawMessage(tool.json)
		if !json.Valid(raw) {
			raw = json.RawMessage("{}")
		}
		p.requests = append(p.requests, ToolRequest{ID: d.ToolID, Name: tool.name, Input: raw})
		out = append(out, ToolEnd{ToolID: d.ToolID})
		delete(p.open, d.ToolID)

		allowContent := p.filter.AllowContentAfterTool(tool.name, p.toolIdx)
		p.toolIdx++
		if !allowContent {
			p.truncated = true
		}
	}

	return out
}
