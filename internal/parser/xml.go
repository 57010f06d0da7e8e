package parser

import (
	"encoding/json"
	"strings"
)

type xmlState int

const (
	xmlText xmlState = iota
	xmlTagBuffering
	xmlInsideTool
	xmlInParamValue
)

// XMLParser implements the XML-like syntax: tools are encoded inline in
// assistant text as <tool:NAME>...<param:P>value</param:P>...</tool:NAME>.
// It is a streaming state machine over byte chunks with a small lookahead
// buffer so tags split across chunk boundaries still parse correctly.
type XMLParser struct {
	filter Filter

	state    xmlState
	tagBuf   strings.Builder // bytes collected since the last unmatched '<'
	toolIdx  int
	curTool  *openTool
	curParam string
	paramBuf strings.Builder

	truncated   bool
	nextID      int
	requests    []ToolRequest
	parseErrors []ParseError
}

type openTool struct {
	id     string
	name   string
	params map[string]string
	order  []string
}

// NewXMLParser creates a streaming XML-syntax parser using filter to decide
// which tools/content may pass through.
func NewXMLParser(filter Filter) *XMLParser {
	if filter == nil {
		filter = Unlimited{}
	}
	return &XMLParser{filter: filter}
}

func (p *XMLParser) Truncated() bool              { return p.truncated }
func (p *XMLParser) Requests() []ToolRequest       { return p.requests }
func (p *XMLParser) ParseErrors() []ParseError     { return p.parseErrors }

// Feed consumes one chunk of raw assistant text and returns the display
// fragments it produces.
func (p *XMLParser) Feed(chunk string) []Fragment {
	var out []Fragment
	if p.truncated {
		return out
	}

	for i := 0; i < len(chunk); i++ {
		if p.truncated {
			break
		}
		c := chunk[i]

		switch p.state {
		case xmlText:
			if c == '<' {
				p.state = xmlTagBuffering
				p.tagBuf.Reset()
				continue
			}
			out = append(out, PlainText{Text: string(c)})

		case xmlInsideTool:
			if c == '<' {
				p.state = xmlTagBuffering
				p.tagBuf.Reset()
				continue
			}
			// Whitespace/text between params inside a tool block is ignored.

		case xmlInParamValue:
			if c == '<' {
				p.state = xmlTagBuffering
				p.tagBuf.Reset()
				continue
			}
			p.paramBuf.WriteByte(c)
			if p.curTool != nil {
				out = append(out, ToolParameter{
					Name:       p.curParam,
					ToolID:     p.curTool.id,
					ValueDelta: string(c),
				})
			}

		case xmlTagBuffering:
			if c == '>' {
				tag := p.tagBuf.String()
				frags, truncated := p.closeTag(tag)
				out = append(out, frags...)
				if truncated {
					p.truncated = true
				}
				continue
			}
			p.tagBuf.WriteByte(c)
		}
	}

	return out
}

// closeTag classifies a complete tag (without the angle brackets) and
// updates parser state, returning any fragments produced and whether the
// filter truncated the stream here.
func (p *XMLParser) closeTag(tag string) ([]Fragment, bool) {
	var out []Fragment

	switch {
	case strings.HasPrefix(tag, "tool:"):
		name := strings.TrimPrefix(tag, "tool:")
		if !p.filter.AllowToolAtPosition(name, p.toolIdx) {
			// Discard: stop consuming input, no partial request emitted.
			return out, true
		}
		p.nextID++
		p.curTool = &openTool{
			id:     ulidLikeID(p.nextID),
			name:   name,
			params: map[string]string{},
		}
		p.state = xmlInsideTool
		out = append(out, ToolName{Name: name, ToolID: p.curTool.id})

	case strings.HasPrefix(tag, "/tool:"):
		name := strings.TrimPrefix(tag, "/tool:")
		if p.curTool == nil || p.curTool.name != name {
			p.parseErrors = append(p.parseErrors, ParseError{
				Raw:     "</" + tag + ">",
				Message: "mismatched tool close tag",
			})
			p.state = xmlText
			return out, false
		}
		input := map[string]any{}
		for _, k := range p.curTool.order {
			input[k] = p.curTool.params[k]
		}
		raw, _ := json.Marshal(input)
		req := ToolRequest{ID: p.curTool.id, Name: p.curTool.name, Input: raw}
		p.requests = append(p.requests, req)
		out = append(out, ToolEnd{ToolID: p.curTool.id})

		allowContent := p.filter.AllowContentAfterTool(p.curTool.name, p.toolIdx)
		p.toolIdx++
		p.curTool = nil
		if allowContent {
			p.state = xmlText
		} else {
			return out, true
		}

	case strings.HasPrefix(tag, "param:"):
		name := strings.TrimPrefix(tag, "param:")
		if p.curTool == nil {
			p.parseErrors = append(p.parseErrors, ParseError{
				Raw:     "<" + tag + ">",
				Message: "param outside of tool",
			})
			p.state = xmlInsideTool
			return out, false
		}
		p.curParam = name
		p.paramBuf.Reset()
		p.state = xmlInParamValue

	case strings.HasPrefix(tag, "/param:"):
		name := strings.TrimPrefix(tag, "/param:")
		if p.curTool == nil || p.curParam != name {
			p.parseErrors = append(p.parseErrors, ParseError{
				Raw:     "</" + tag + ">",
				Message: "mismatched param close tag",
			})
			p.state = xmlInsideTool
			return out, false
		}
		p.curTool.order = append(p.curTool.order, name)
		p.curTool.params[name] = p.paramBuf.String()
		p.state = xmlInsideTool

	default:
		p.parseErrors = append(p.parseErrors, ParseError{
			Raw:     "<" + tag + ">",
			Message: "unknown tag",
		})
		if p.curTool != nil {
			p.state = xmlInsideTool
		} else {
			p.state = xmlText
		}
	}

	return out, false
}

func ulidLikeID(n int) string {
	return "tool_" + itoaPad(n)
}

func itoaPad(n int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%36]}, b...)
		n /= 36
	}
	return string(b)
}
