package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/stippi/code-assistant/internal/event"
	"github.com/stippi/code-assistant/internal/logging"
)

// Decision is the outcome of a mediated permission request.
type Decision int

const (
	Denied Decision = iota
	GrantedOnce
	GrantedSession
)

func (d Decision) String() string {
	switch d {
	case GrantedOnce:
		return "granted_once"
	case GrantedSession:
		return "granted_session"
	default:
		return "denied"
	}
}

// Reason is the typed discriminant a mediated request is keyed by.
// GrantedSession caches on the Reason's Kind(), not on its exact
// arguments, so approving one `cargo test` also covers `cargo build`
// within the same session.
type Reason interface {
	Kind() string
}

// ExecuteCommand is the only Reason kind the specification names today;
// more kinds (e.g. edit-outside-workspace) can be added without
// changing the Mediator interface.
type ExecuteCommand struct {
	CommandLine string
	WorkingDir  string
}

func (ExecuteCommand) Kind() string { return "execute_command" }

// MediatedRequest bundles a tool invocation with the reason a decision
// is needed for it.
type MediatedRequest struct {
	ToolID    string
	ToolName  string
	SessionID string
	MessageID string
	CallID    string
	Title     string
	Reason    Reason
}

// Mediator brokers human-in-the-loop approval. Implementations block
// the calling turn until a decision is available; they must never be
// invoked re-entrantly from within the agent loop they serve.
type Mediator interface {
	Request(ctx context.Context, req MediatedRequest) (Decision, error)
}

// sessionGrants tracks, per session, which Reason kinds have been
// granted for the remainder of the session.
type sessionGrants struct {
	mu    sync.RWMutex
	kinds map[string]map[string]bool // sessionID -> kind -> granted
}

func newSessionGrants() *sessionGrants {
	return &sessionGrants{kinds: make(map[string]map[string]bool)}
}

func (g *sessionGrants) granted(sessionID, kind string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.kinds[sessionID][kind]
}

func (g *sessionGrants) grant(sessionID, kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.kinds[sessionID] == nil {
		g.kinds[sessionID] = make(map[string]bool)
	}
	g.kinds[sessionID][kind] = true
}

// ClearSession drops all session-scoped grants, e.g. when a session ends.
func (g *sessionGrants) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.kinds, sessionID)
}

// InteractiveMediator sends a permission-request event to the UI with
// three options ("Always allow this session", "Allow once", "Deny")
// and waits for the matching PermissionResponse. Grounded on the
// existing event-publish/wait-on-channel shape of
// internal/permission/checker.go's Ask method, adapted to the
// GrantedOnce/GrantedSession/Denied decision model and reason-kind
// caching required here.
type InteractiveMediator struct {
	grants  *sessionGrants
	mu      sync.Mutex
	pending map[string]chan Response
}

// NewInteractiveMediator creates a Mediator that defers to the UI.
func NewInteractiveMediator() *InteractiveMediator {
	return &InteractiveMediator{
		grants:  newSessionGrants(),
		pending: make(map[string]chan Response),
	}
}

func (m *InteractiveMediator) Request(ctx context.Context, req MediatedRequest) (Decision, error) {
	kind := req.Reason.Kind()
	if m.grants.granted(req.SessionID, kind) {
		return GrantedSession, nil
	}

	id := ulid.Make().String()
	respChan := make(chan Response, 1)
	m.mu.Lock()
	m.pending[id] = respChan
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:             id,
			SessionID:      req.SessionID,
			PermissionType: kind,
			Title:          req.Title,
		},
	})

	select {
	case <-ctx.Done():
		return Denied, ctx.Err()
	case resp := <-respChan:
		switch resp.Action {
		case "once":
			m.publishResolved(id, req.SessionID, true)
			return GrantedOnce, nil
		case "always":
			m.grants.grant(req.SessionID, kind)
			m.publishResolved(id, req.SessionID, true)
			return GrantedSession, nil
		default:
			m.publishResolved(id, req.SessionID, false)
			return Denied, nil
		}
	}
}

func (m *InteractiveMediator) publishResolved(id, sessionID string, granted bool) {
	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: id, SessionID: sessionID, Granted: granted},
	})
}

// Respond delivers a UI decision for a pending request.
func (m *InteractiveMediator) Respond(requestID string, action string) {
	m.mu.Lock()
	ch, ok := m.pending[requestID]
	m.mu.Unlock()
	if ok {
		ch <- Response{RequestID: requestID, Action: action}
	}
}

// ClearSession drops cached session grants, e.g. on session deletion.
func (m *InteractiveMediator) ClearSession(sessionID string) {
	m.grants.ClearSession(sessionID)
}

// AutoApproveMediator grants every request without prompting, for
// tests and CI. It still honors GrantedSession caching by kind so
// tests exercising repeated-request behavior see the same shape of
// decision a real session would.
type AutoApproveMediator struct {
	grants *sessionGrants
}

// NewAutoApproveMediator creates a Mediator suitable for headless runs.
func NewAutoApproveMediator() *AutoApproveMediator {
	return &AutoApproveMediator{grants: newSessionGrants()}
}

func (m *AutoApproveMediator) Request(ctx context.Context, req MediatedRequest) (Decision, error) {
	kind := req.Reason.Kind()
	logging.Debug().Str("component", "permission").Str("kind", kind).Str("session", req.SessionID).Msg("auto-approving")
	m.grants.grant(req.SessionID, kind)
	return GrantedSession, nil
}
