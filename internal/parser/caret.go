package parser

import (
	"encoding/json"
	"strings"
)

type caretMode int

const (
	caretOutside caretMode = iota
	caretInTool
	caretAwaitingContent
	caretInContent
)

// CaretParser implements the line-oriented caret syntax: tool blocks are
// framed by caret-prefixed sentinel lines (^^^tool NAME ... ^^^end) with
// parameters as key/value pairs, multiline values delimited by a nested
// ^^^content ... ^^^end fence. It tokenizes line-by-line and produces the
// same fragment/request shape as XMLParser.
type CaretParser struct {
	filter Filter

	mode       caretMode
	pending    string // unconsumed partial line across Feed calls
	toolIdx    int
	nextID     int
	curTool    *openTool
	pendingKey string
	contentBuf strings.Builder

	truncated   bool
	requests    []ToolRequest
	parseErrors []ParseError
}

// NewCaretParser creates a streaming caret-syntax parser.
func NewCaretParser(filter Filter) *CaretParser {
	if filter == nil {
		filter = Unlimited{}
	}
	return &CaretParser{filter: filter}
}

func (p *CaretParser) Truncated() bool          { return p.truncated }
func (p *CaretParser) Requests() []ToolRequest   { return p.requests }
func (p *CaretParser) ParseErrors() []ParseError { return p.parseErrors }

// Feed consumes one chunk of raw assistant text.
func (p *CaretParser) Feed(chunk string) []Fragment {
	var out []Fragment
	if p.truncated {
		return out
	}

	buf := p.pending + chunk
	lines := strings.Split(buf, "\n")
	// The last element is either a complete-but-unterminated line (no
	// trailing \n yet) or empty if buf ended with \n.
	p.pending = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	for _, line := range lines {
		if p.truncated {
			break
		}
		frags, truncated := p.processLine(line)
		out = append(out, frags...)
		if truncated {
			p.truncated = true
		}
	}

	return out
}

func (p *CaretParser) processLine(line string) ([]Fragment, bool) {
	var out []Fragment
	trimmed := strings.TrimSpace(line)

	switch p.mode {
	case caretOutside:
		if strings.HasPrefix(trimmed, "^^^tool ") {
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "^^^tool "))
			if !p.filter.AllowToolAtPosition(name, p.toolIdx) {
				return out, true
			}
			p.nextID++
			p.curTool = &openTool{id: ulidLikeID(p.nextID), name: name, params: map[string]string{}}
			p.mode = caretInTool
			out = append(out, ToolName{Name: name, ToolID: p.curTool.id})
			return out, false
		}
		out = append(out, PlainText{Text: line + "\n"})

	case caretInTool:
		if trimmed == "^^^end" {
			input := map[string]any{}
			for _, k := range p.curTool.order {
				input[k] = p.curTool.params[k]
			}
			raw, _ := json.Marshal(input)
			p.requests = append(p.requests, ToolRequest{ID: p.curTool.id, Name: p.curTool.name, Input: raw})
			out = append(out, ToolEnd{ToolID: p.curTool.id})

			allowContent := p.filter.AllowContentAfterTool(p.curTool.name, p.toolIdx)
			p.toolIdx++
			p.curTool = nil
			p.mode = caretOutside
			if !allowContent {
				return out, true
			}
			return out, false
		}

		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			key := strings.TrimSpace(trimmed[:idx])
			val := strings.TrimSpace(trimmed[idx+1:])
			if val == "" {
				// Multiline value follows via a ^^^content fence.
				p.pendingKey = key
				p.mode = caretAwaitingContent
				return out, false
			}
			p.recordParam(key, val)
			out = append(out, ToolParameter{Name: key, ToolID: p.curTool.id, ValueDelta: val})
			return out, false
		}

		p.parseErrors = append(p.parseErrors, ParseError{Raw: line, Message: "expected key: value or ^^^end"})

	case caretAwaitingContent:
		if trimmed == "^^^content" {
			p.mode = caretInContent
			p.contentBuf.Reset()
			return out, false
		}
		p.parseErrors = append(p.parseErrors, ParseError{Raw: line, Message: "expected ^^^content fence"})
		p.mode = caretInTool

	case caretInContent:
		if trimmed == "^^^end" {
			value := p.contentBuf.String()
			p.recordParam(p.pendingKey, value)
			out = append(out, ToolParameter{Name: p.pendingKey, ToolID: p.curTool.id, ValueDelta: value})
			p.mode = caretInTool
			return out, false
		}
		if p.contentBuf.Len() > 0 {
			p.contentBuf.WriteByte('\n')
		}
		p.contentBuf.WriteString(line)
	}

	return out, false
}

func (p *CaretParser) recordParam(key, val string) {
	if _, exists := p.curTool.params[key]; !exists {
		p.curTool.order = append(p.curTool.order, key)
	}
	p.curTool.params[key] = val
}
