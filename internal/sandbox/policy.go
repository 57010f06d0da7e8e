// Package sandbox wraps bare command execution with a sandbox policy.
// Enforcement is advisory at this layer: on platforms with OS-level
// profiles it could wrap the child in a restricted invocation, but the
// core guarantee this package provides is narrower and checked purely
// in Go before the child ever starts — ReadOnly refuses writes outside
// a small tmp-like exclusion set, and WorkspaceWrite permits writes
// only within its listed roots. A refused write is reported as a
// failed Result, never as a panic or Go error.
package sandbox

import "path/filepath"

// PolicyKind discriminates the three sandbox policies.
type PolicyKind int

const (
	DangerFullAccess PolicyKind = iota
	ReadOnly
	WorkspaceWrite
)

// Policy gates which filesystem writes and network access a command
// run through Executor may perform.
type Policy struct {
	Kind PolicyKind

	// WritableRoots is only consulted when Kind == WorkspaceWrite.
	WritableRoots []string
	NetworkAccess bool

	// ExcludeTmpdir / ExcludeSlashTmp remove $TMPDIR / /tmp from the
	// implicit always-writable exclusion set ReadOnly otherwise grants.
	ExcludeTmpdir   bool
	ExcludeSlashTmp bool
}

// DangerFullAccessPolicy permits everything; the default for trusted,
// already-approved commands.
func DangerFullAccessPolicy() Policy {
	return Policy{Kind: DangerFullAccess, NetworkAccess: true}
}

// ReadOnlyPolicy refuses all writes outside of /tmp-like exclusions.
func ReadOnlyPolicy() Policy {
	return Policy{Kind: ReadOnly}
}

// WorkspaceWritePolicy permits writes precisely within roots.
func WorkspaceWritePolicy(roots []string, networkAccess bool) Policy {
	return Policy{Kind: WorkspaceWrite, WritableRoots: roots, NetworkAccess: networkAccess}
}

// tmpRoots returns the implicit exclusion directories a ReadOnly policy
// still allows writes into, honoring the exclude flags.
func (p Policy) tmpRoots(tmpdir string) []string {
	var roots []string
	if !p.ExcludeTmpdir && tmpdir != "" {
		roots = append(roots, tmpdir)
	}
	if !p.ExcludeSlashTmp {
		roots = append(roots, "/tmp")
	}
	return roots
}

// AllowsWrite reports whether a resolved absolute path may be written
// to under this policy.
func (p Policy) AllowsWrite(resolvedPath, tmpdir string) bool {
	switch p.Kind {
	case DangerFullAccess:
		return true
	case ReadOnly:
		for _, root := range p.tmpRoots(tmpdir) {
			if within(resolvedPath, root) {
				return true
			}
		}
		return false
	case WorkspaceWrite:
		for _, root := range p.WritableRoots {
			if within(resolvedPath, root) {
				return true
			}
		}
		for _, root := range p.tmpRoots(tmpdir) {
			if within(resolvedPath, root) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func within(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || (len(rel) > 2 && rel[:3] == "../")
}
