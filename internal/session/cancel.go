package session

import (
	"context"
	"time"

	"github.com/stippi/code-assistant/internal/event"
	"github.com/stippi/code-assistant/internal/storage"
	"github.com/stippi/code-assistant/pkg/types"
)

// RepairDanglingToolCalls scans messageParts for ToolPart entries still
// in "pending" or "running" state and appends a synthetic error result
// to each, preserving the Message/ToolUse/ToolResult pairing invariant
// for a turn that was cancelled (or that crashed and is being repaired
// on restart) before every tool call it started had produced a result.
//
// Grounded on the teacher's tool-part lifecycle in
// internal/session/stream.go (ToolPart{State: "pending"|"running"|...}),
// generalized to the cancellation/crash-recovery requirement the
// specification names explicitly: "a cancelled turn may leave a
// synthetic ToolResult{is_error:true, output:"cancelled"} for every
// outstanding ToolUse to preserve the pairing invariant."
func RepairDanglingToolCalls(ctx context.Context, store *storage.Storage, sessionID, messageID string, parts []types.Part, reason string) []types.Part {
	now := time.Now().UnixMilli()
	repaired := make([]types.Part, 0, len(parts))

	for _, p := range parts {
		tp, ok := p.(*types.ToolPart)
		if !ok || (tp.State != "pending" && tp.State != "running") {
			repaired = append(repaired, p)
			continue
		}

		errMsg := reason
		tp.State = "error"
		tp.Error = &errMsg
		tp.Time.End = &now
		repaired = append(repaired, tp)

		if store != nil {
			_ = store.Put(ctx, []string{"part", messageID, tp.ID}, tp)
		}

		event.Publish(event.Event{
			Type: event.MessagePartUpdated,
			Data: event.MessagePartUpdatedData{Part: tp},
		})
	}

	return repaired
}

// CancelledToolResultReason is the output text the specification uses
// verbatim for a tool result synthesized because the user cancelled the
// turn, as opposed to a crash-recovery repair (which uses a distinct
// message so a session's history can distinguish the two causes).
const CancelledToolResultReason = "cancelled by user"

// CrashRecoveryToolResultReason is used instead of
// CancelledToolResultReason when RepairDanglingToolCalls runs at
// startup against a session left mid-turn by a process crash.
const CrashRecoveryToolResultReason = "interrupted: session was not cleanly shut down"
