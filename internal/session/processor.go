package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/stippi/code-assistant/internal/permission"
	"github.com/stippi/code-assistant/internal/provider"
	"github.com/stippi/code-assistant/internal/sandbox"
	"github.com/stippi/code-assistant/internal/storage"
	"github.com/stippi/code-assistant/internal/tool"
	"github.com/stippi/code-assistant/pkg/types"
)

// Processor handles message processing and the agentic loop.
type Processor struct {
	mu sync.Mutex

	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	storage           *storage.Storage
	permissionChecker *permission.Checker

	// permissionMediator brokers human-in-the-loop approval for
	// privileged tools (currently Bash). Populated into tool.Context for
	// every tool call by executeSingleTool; nil means tools fall back to
	// permissionChecker's legacy ask flow.
	permissionMediator permission.Mediator

	// sandboxExecutor runs shell commands under a sandbox.Policy instead
	// of bare exec. Populated into tool.Context the same way.
	sandboxExecutor *sandbox.Executor

	// activity tracks each session's Idle/AgentRunning/WaitingForResponse/
	// RateLimited state for the UI and the rate-limit backoff loop.
	activity *ActivityTracker

	// Default provider and model to use when not specified
	defaultProviderID string
	defaultModelID    string

	// Active sessions being processed
	sessions map[string]*sessionState

	// memories holds each session's working-memory scratchpad, lazily
	// created on first access via memoryForSession.
	memories map[string]*sessionMemory
}

// sessionState tracks the state of an active session being processed.
type sessionState struct {
	ctx      context.Context
	cancel   context.CancelFunc
	message  *types.Message
	parts    []types.Part
	waiters  []chan error
	step     int
	retries  int
}

// ProcessCallback is called with message updates during processing.
type ProcessCallback func(msg *types.Message, parts []types.Part)

// CompactionPart re-exports types.CompactionPart for callers within this
// package that don't otherwise import pkg/types under a qualified name.
type CompactionPart = types.CompactionPart

// NewProcessor creates a new session processor.
func NewProcessor(
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	store *storage.Storage,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Processor {
	// Use reasonable defaults if not specified
	if defaultProviderID == "" {
		defaultProviderID = "anthropic"
	}
	if defaultModelID == "" {
		defaultModelID = "claude-sonnet-4-20250514"
	}
	return &Processor{
		providerRegistry:  providerReg,
		toolRegistry:      toolReg,
		storage:           store,
		permissionChecker: permChecker,
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*sessionState),
		activity:          NewActivityTracker(),
	}
}

// Process handles a new user message and generates an assistant response.
// This is the main entry point for the agentic loop.
func (p *Processor) Process(ctx context.Context, sessionID string, agent *Agent, callback ProcessCallback) error {
	p.mu.Lock()

	// Check if session is already processing
	if state, ok := p.sessions[sessionID]; ok {
		// Queue this request
		waiter := make(chan error, 1)
		state.waiters = append(state.waiters, waiter)
		p.mu.Unlock()

		// Wait for current processing to complete
		select {
		case err := <-waiter:
			if err != nil {
				return err
			}
			// Retry processing
			return p.Process(ctx, sessionID, agent, callback)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Create new session state
	loopCtx, cancel := context.WithCancel(ctx)
	state := &sessionState{
		ctx:    loopCtx,
		cancel: cancel,
	}
	p.sessions[sessionID] = state
	p.mu.Unlock()

	// Ensure cleanup
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sessionID)

		// Notify waiters
		for _, waiter := range state.waiters {
			waiter <- nil
		}
		p.mu.Unlock()
	}()

	// Run the agentic loop
	return p.runLoop(loopCtx, sessionID, state, agent, callback)
}

// SetPermissionMediator installs the Mediator that privileged tools
// (via tool.Context.PermissionMediator) consult for human-in-the-loop
// approval, replacing the legacy permissionChecker ask flow for the
// tools that support it.
func (p *Processor) SetPermissionMediator(m permission.Mediator) {
	p.permissionMediator = m
}

// SetSandboxExecutor installs the sandbox.Executor that privileged
// tools (via tool.Context.SandboxExecutor) run shell commands through.
func (p *Processor) SetSandboxExecutor(e *sandbox.Executor) {
	p.sandboxExecutor = e
}

// PermissionMediator returns the Mediator installed via
// SetPermissionMediator, or nil if none was set.
func (p *Processor) PermissionMediator() permission.Mediator {
	return p.permissionMediator
}

// Abort cancels processing for a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}

	state.cancel()
	return nil
}

// IsProcessing returns whether a session is currently processing.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// GetActiveState returns the current state for a processing session.
func (p *Processor) GetActiveState(sessionID string) (*types.Message, []types.Part, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	return state.message, state.parts, true
}
