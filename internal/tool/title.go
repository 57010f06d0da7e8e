package tool

import (
	"encoding/json"
	"strconv"
	"strings"
)

const titleMaxLen = 50

// RenderTitle fills a tool's TitleTemplate with values pulled from its
// JSON input, producing the short line a UI shows next to a running
// tool call (e.g. "Reading src/main.rs" for read_files). Placeholders
// are `{name}`; a placeholder whose value is a JSON array of strings is
// rendered as "first and N more" rather than a raw array dump, and the
// final string is truncated to titleMaxLen runes with an ellipsis.
func RenderTitle(meta Meta, toolName string, input json.RawMessage) string {
	tmpl := meta.TitleTemplate
	if tmpl == "" {
		return toolName
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return truncateTitle(tmpl)
	}

	out := tmpl
	for key, raw := range fields {
		placeholder := "{" + key + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, renderFieldValue(raw))
	}
	return truncateTitle(out)
}

// renderFieldValue turns one JSON field value into display text.
func renderFieldValue(raw json.RawMessage) string {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return renderStringList(arr)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return strings.Trim(string(raw), `"`)
}

// renderStringList renders ["a.rs"] as "a.rs" and ["a.rs","b.rs","c.rs"]
// as "a.rs and 2 more".
func renderStringList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return items[0] + " and " + strconv.Itoa(len(items)-1) + " more"
	}
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= titleMaxLen {
		return s
	}
	return string(runes[:titleMaxLen-1]) + "…"
}
