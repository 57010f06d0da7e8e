package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// multilineParams are rendered via the Caret syntax's fenced-content
// form (`key:` / `^^^content` / ... / `^^^end`) in generated examples,
// since their values routinely span multiple lines.
var multilineParams = map[string]bool{
	"content":      true,
	"diff":         true,
	"command_line": true,
	"message":      true,
}

type schemaProp struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type jsonSchema struct {
	Properties map[string]schemaProp `json:"properties"`
	Required   []string               `json:"required"`
}

// GenerateXMLDoc renders the Markdown documentation block for a tool
// under the XML wire syntax: a header, description, a parameter table,
// and a canonical usage example.
func GenerateXMLDoc(t Tool) string {
	s := parseSchema(t.Parameters())
	var b strings.Builder

	fmt.Fprintf(&b, "### %s\n\n%s\n\n", t.ID(), t.Description())
	writeParamTable(&b, s)

	fmt.Fprintf(&b, "\nExample:\n\n```\n<tool:%s>\n", t.ID())
	for _, name := range orderedParamNames(s) {
		fmt.Fprintf(&b, "<param:%s>%s</param:%s>\n", name, exampleValue(name, s.Properties[name]), name)
	}
	fmt.Fprintf(&b, "</tool:%s>\n```\n", t.ID())

	return b.String()
}

// GenerateCaretDoc renders the Markdown documentation block for a tool
// under the Caret wire syntax.
func GenerateCaretDoc(t Tool) string {
	s := parseSchema(t.Parameters())
	var b strings.Builder

	fmt.Fprintf(&b, "### %s\n\n%s\n\n", t.ID(), t.Description())
	writeParamTable(&b, s)

	fmt.Fprintf(&b, "\nExample:\n\n```\n^^^tool %s\n", t.ID())
	for _, name := range orderedParamNames(s) {
		val := exampleValue(name, s.Properties[name])
		if multilineParams[name] {
			fmt.Fprintf(&b, "%s:\n^^^content\n%s\n^^^end\n", name, val)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", name, val)
		}
	}
	b.WriteString("^^^end\n```\n")

	return b.String()
}

func parseSchema(raw json.RawMessage) jsonSchema {
	var s jsonSchema
	_ = json.Unmarshal(raw, &s)
	return s
}

// orderedParamNames returns parameter names with required params first,
// then optional params; each group is sorted alphabetically.
func orderedParamNames(s jsonSchema) []string {
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	var req, opt []string
	for name := range s.Properties {
		if required[name] {
			req = append(req, name)
		} else {
			opt = append(opt, name)
		}
	}
	sort.Strings(req)
	sort.Strings(opt)
	return append(req, opt...)
}

func writeParamTable(b *strings.Builder, s jsonSchema) {
	if len(s.Properties) == 0 {
		return
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	b.WriteString("| Parameter | Type | Required | Description |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, name := range orderedParamNames(s) {
		prop := s.Properties[name]
		req := "no"
		// A description carrying an explicit "(required)" marker covers
		// tools whose schema omits a top-level `required` array but
		// documents the constraint in prose instead.
		if required[name] || strings.Contains(strings.ToLower(prop.Description), "(required)") {
			req = "yes"
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", name, orDefault(prop.Type, "string"), req, prop.Description)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// exampleValue produces a representative placeholder value for a
// parameter in a generated usage example.
func exampleValue(name string, prop schemaProp) string {
	switch prop.Type {
	case "array":
		// Shown as a single literal JSON list with two items; the
		// example does not repeat the parameter tag per item.
		return fmt.Sprintf(`["%s1", "%s2"]`, name, name)
	case "boolean":
		return "true"
	case "integer", "number":
		return "1"
	default:
		return "<" + name + ">"
	}
}
