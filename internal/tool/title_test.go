package tool

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTitle_SingleFile(t *testing.T) {
	meta := Meta{TitleTemplate: "Reading {path}"}
	got := RenderTitle(meta, "read_files", json.RawMessage(`{"path":"src/main.rs"}`))
	assert.Equal(t, "Reading src/main.rs", got)
}

func TestRenderTitle_ArrayBecomesFirstAndNMore(t *testing.T) {
	meta := Meta{TitleTemplate: "Reading {paths}"}
	got := RenderTitle(meta, "read_files", json.RawMessage(`{"paths":["a.rs","b.rs","c.rs"]}`))
	assert.Equal(t, "Reading a.rs and 2 more", got)
}

func TestRenderTitle_TruncatesLongValues(t *testing.T) {
	meta := Meta{TitleTemplate: "Running {command_line}"}
	long := strings.Repeat("x", 100)
	got := RenderTitle(meta, "execute_command", json.RawMessage(`{"command_line":"`+long+`"}`))
	assert.LessOrEqual(t, len([]rune(got)), titleMaxLen)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRenderTitle_NoTemplateFallsBackToToolName(t *testing.T) {
	got := RenderTitle(Meta{}, "read_files", json.RawMessage(`{}`))
	assert.Equal(t, "read_files", got)
}
