package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/stippi/code-assistant/internal/logging"
	"mvdan.cc/sh/v3/syntax"
)

// Result is the outcome of a sandboxed command run.
type Result struct {
	Success bool
	Output  string
}

// StreamCallback receives one line of interleaved stdout/stderr output
// as it is produced.
type StreamCallback func(line string)

// Executor runs shell commands under a Policy. It is grounded on the
// teacher's internal/tool/bash.go process-group/timeout handling,
// generalized to a standalone collaborator the bash tool (and any
// future tool needing shell execution) delegates to, and extended with
// mvdan.cc/sh/v3's syntax.Walk-based command parsing (the same
// approach the teacher uses in internal/permission/bash_parser.go) to
// classify writes before the child process ever starts.
type Executor struct {
	shell  string
	policy Policy
	tmpdir string
}

// NewExecutor creates an Executor enforcing policy.
func NewExecutor(policy Policy) *Executor {
	return &Executor{
		shell:  detectShell(),
		policy: policy,
		tmpdir: os.TempDir(),
	}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// Execute runs cmd to completion, capturing combined stdout+stderr.
// A policy violation never becomes a Go error: it is reported as
// Result{Success: false} with the violation described in Output,
// matching the specification's "violations manifest as non-zero exit
// and captured error output, never exceptions".
func (e *Executor) Execute(ctx context.Context, cmdLine, workingDir string) (Result, error) {
	if workingDir == "" {
		workingDir = "."
	}

	if violation := e.checkWrites(ctx, cmdLine, workingDir); violation != "" {
		logging.Warn().Str("component", "sandbox").Str("violation", violation).Msg("command blocked by sandbox policy")
		return Result{Success: false, Output: violation}, nil
	}

	cmd := e.buildCommand(ctx, cmdLine, workingDir)
	output, err := cmd.CombinedOutput()
	return e.finish(output, err)
}

// ExecuteStreaming runs cmd, invoking callback with each line of
// output as it is produced from either stdout or stderr, preserving
// the order in which the lines actually arrived.
func (e *Executor) ExecuteStreaming(ctx context.Context, cmdLine, workingDir string, callback StreamCallback) (Result, error) {
	if workingDir == "" {
		workingDir = "."
	}

	if violation := e.checkWrites(ctx, cmdLine, workingDir); violation != "" {
		logging.Warn().Str("component", "sandbox").Str("violation", violation).Msg("command blocked by sandbox policy")
		return Result{Success: false, Output: violation}, nil
	}

	cmd := e.buildCommand(ctx, cmdLine, workingDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("sandbox: start: %w", err)
	}

	var mu sync.Mutex
	var out strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)

	pump := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			out.WriteString(line)
			out.WriteByte('\n')
			mu.Unlock()
			if callback != nil {
				callback(line)
			}
		}
	}

	go pump(stdout)
	go pump(stderr)
	wg.Wait()

	err = cmd.Wait()
	return e.finish([]byte(out.String()), err)
}

func (e *Executor) buildCommand(ctx context.Context, cmdLine, workingDir string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, e.shell, "/c", cmdLine)
	} else {
		cmd = exec.CommandContext(ctx, e.shell, "-c", cmdLine)
	}
	cmd.Dir = workingDir
	cmd.Env = e.environment()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	return cmd
}

// environment strips common proxy variables when network access is
// denied; this is advisory (a command invoking raw syscalls bypasses
// it) but matches what the core is required to guarantee: a
// well-behaved child using the process environment sees no egress path.
func (e *Executor) environment() []string {
	env := os.Environ()
	if e.policy.NetworkAccess {
		return env
	}

	blocked := map[string]bool{
		"HTTP_PROXY": true, "HTTPS_PROXY": true, "ALL_PROXY": true,
		"http_proxy": true, "https_proxy": true, "all_proxy": true,
	}
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			name = kv[:idx]
		}
		if !blocked[name] {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

func (e *Executor) finish(output []byte, runErr error) (Result, error) {
	result := string(output)
	success := runErr == nil
	if _, ok := runErr.(*exec.ExitError); runErr != nil && !ok {
		result += fmt.Sprintf("\n\nError: %v", runErr)
	}
	return Result{Success: success, Output: result}, nil
}

// checkWrites parses cmdLine for file-modifying commands and, when the
// policy forbids writing to a referenced path, returns a human-readable
// violation description. Returns "" when the command is permitted (or
// could not be parsed — parse failures are not treated as violations,
// matching the teacher's checkPermissions fallback of asking rather
// than silently blocking).
func (e *Executor) checkWrites(ctx context.Context, cmdLine, workingDir string) string {
	if e.policy.Kind == DangerFullAccess {
		return ""
	}

	commands, err := parseCommands(cmdLine)
	if err != nil {
		return ""
	}

	for _, c := range commands {
		if !writingCommands[c.name] {
			continue
		}
		for _, arg := range c.paths() {
			resolved := resolvePath(arg, workingDir)
			if !e.policy.AllowsWrite(resolved, e.tmpdir) {
				return fmt.Sprintf("sandbox policy denies write to %q (command: %q)", resolved, cmdLine)
			}
		}
	}
	return ""
}

// writingCommands lists the command names checkWrites treats as
// filesystem-modifying, grounded on the teacher's DangerousCommands set
// in internal/permission/bash_parser.go.
var writingCommands = map[string]bool{
	"rm": true, "cp": true, "mv": true, "mkdir": true, "touch": true,
	"chmod": true, "chown": true, "rmdir": true, "dd": true, "tee": true,
}

type parsedCommand struct {
	name string
	args []string
}

func (c parsedCommand) paths() []string {
	var paths []string
	for _, a := range c.args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		paths = append(paths, a)
	}
	return paths
}

func parseCommands(cmdLine string) ([]parsedCommand, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(cmdLine), "")
	if err != nil {
		return nil, err
	}

	var out []parsedCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := wordToString(call.Args[0])
		var args []string
		for _, a := range call.Args[1:] {
			args = append(args, wordToString(a))
		}
		out = append(out, parsedCommand{name: name, args: args})
		return true
	})
	return out, nil
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		if lit, ok := part.(*syntax.Lit); ok {
			sb.WriteString(lit.Value)
		}
	}
	return sb.String()
}

func resolvePath(path, workingDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workingDir, path))
}
