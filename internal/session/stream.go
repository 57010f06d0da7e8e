package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/stippi/code-assistant/internal/event"
	"github.com/stippi/code-assistant/internal/logging"
	"github.com/stippi/code-assistant/internal/parser"
	"github.com/stippi/code-assistant/internal/provider"
	"github.com/stippi/code-assistant/pkg/types"
)

// toolSyntaxParsers bundles the two shapes internal/parser exposes for a
// single in-flight response: exactly one of sp (XML/Caret, text-chunk
// driven) or np (Native, typed-delta driven) is non-nil, selected by
// Agent.ToolSyntax.
type toolSyntaxParsers struct {
	sp            parser.StreamParser
	np            *parser.NativeParser
	toolIndexToID map[int]string // eino tool-call Index -> ToolID, native only
}

func newToolSyntaxParsers(agent *Agent) *toolSyntaxParsers {
	filter := parser.NewFilter(agent.ToolFilter)
	switch parser.Syntax(agent.ToolSyntax) {
	case parser.SyntaxXML, parser.SyntaxCaret:
		return &toolSyntaxParsers{sp: parser.NewStreamParser(parser.Syntax(agent.ToolSyntax), filter)}
	default:
		return &toolSyntaxParsers{np: parser.NewNativeParser(filter), toolIndexToID: make(map[int]string)}
	}
}

func (t *toolSyntaxParsers) truncated() bool {
	if t.sp != nil {
		return t.sp.Truncated()
	}
	return t.np.Truncated()
}

// processStream processes events from the LLM stream.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	var currentToolParts map[string]*types.ToolPart
	var finishReason string
	var accumulatedContent string
	var accumulatedToolInputs map[string]string

	currentToolParts = make(map[string]*types.ToolPart)
	accumulatedToolInputs = make(map[string]string)

	syntax := newToolSyntaxParsers(agent)

	// Emit step-start part at the beginning of inference
	stepStartPart := &types.StepStartPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-start",
	}
	state.parts = append(state.parts, stepStartPart)
	p.savePart(ctx, state.message.ID, stepStartPart)
	event.Publish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: stepStartPart},
	})
	callback(state.message, state.parts)

	log := logging.Debug().Str("component", "stream").Str("sessionID", state.message.SessionID)
	log.Msg("starting to receive chunks")
	chunkCount := 0
	var lastChunkTime time.Time
	var lastEventTime time.Time // For throttling event publishing

	for {
		select {
		case <-ctx.Done():
			logging.Debug().Str("component", "stream").Msg("context cancelled")
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			logging.Debug().Str("component", "stream").Int("chunks", chunkCount).Msg("received EOF")
			break
		}
		if err != nil {
			logging.Error().Str("component", "stream").Err(err).Msg("error receiving chunk")
			return "error", err
		}
		chunkCount++
		now := time.Now()
		var delta time.Duration
		if !lastChunkTime.IsZero() {
			delta = now.Sub(lastChunkTime)
		}
		lastChunkTime = now
		logging.Debug().Str("component", "stream").
			Int("chunk", chunkCount).
			Dur("sinceLast", delta).
			Str("content", truncate(msg.Content, 50)).
			Int("toolCalls", len(msg.ToolCalls)).
			Bool("hasResponseMeta", msg.ResponseMeta != nil).
			Msg("chunk received")

		// Process the message chunk
		finishReason = p.processMessageChunk(ctx, msg, state, callback, syntax,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs, &lastEventTime)

		if finishReason != "" {
			break
		}

		if syntax.truncated() {
			logging.Debug().Str("component", "stream").Msg("tool filter truncated response")
			finishReason = "stop"
			break
		}
	}

	// Native syntax only signals a tool call's end through the overall
	// stream finish reason, not a per-call marker; force-close whatever
	// is still open so every ToolName fragment gets a matching ToolEnd.
	if syntax.np != nil {
		frags := syntax.np.Close()
		p.applyFragments(frags, state, callback, &currentTextPart, &currentReasoningPart,
			currentToolParts, accumulatedToolInputs, &lastEventTime)
	}

	// Finalize any open parts
	if currentTextPart != nil {
		now := time.Now().UnixMilli()
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
	}

	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	// Finalize tool parts
	logging.Debug().Str("component", "stream").Int("count", len(currentToolParts)).Msg("finalizing tool parts")
	for id, toolPart := range currentToolParts {
		logging.Debug().Str("component", "stream").
			Str("partID", id).
			Str("tool", toolPart.ToolName).
			Str("callID", toolPart.ToolCallID).
			Str("state", toolPart.State).
			Msg("finalizing tool part")
		if accInput, ok := accumulatedToolInputs[id]; ok && toolPart.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.Input = input
			}
		}
		toolPart.State = "running"
		p.savePart(ctx, state.message.ID, toolPart)
	}

	// Determine finish reason from accumulated state
	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls" // SDK compatible: TypeScript uses "tool-calls"
		} else {
			finishReason = "stop"
		}
	}

	// Normalize finish reason to SDK-compatible format
	// TypeScript uses "tool-calls" but some providers return "tool_use"
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	// Emit step-finish part at the end of inference with cost and token info
	stepFinishPart := &types.StepFinishPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-finish",
		Reason:    finishReason,
		Cost:      state.message.Cost,
		Tokens:    state.message.Tokens,
	}
	state.parts = append(state.parts, stepFinishPart)
	p.savePart(ctx, state.message.ID, stepFinishPart)
	event.Publish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{Part: stepFinishPart},
	})
	callback(state.message, state.parts)

	logging.Debug().Str("component", "stream").
		Str("finishReason", finishReason).
		Int("parts", len(state.parts)).
		Msg("stream finished")

	return finishReason, nil
}

// truncate truncates a string to the specified length.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MinEventInterval is the minimum time between streaming events.
// This ensures the TUI has time to process each event before the next arrives.
// Set to slightly above TUI's 16ms batching window to prevent batching.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling to prevent TUI batching.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		elapsed := time.Since(*lastEventTime)
		if elapsed < MinEventInterval {
			sleepTime := MinEventInterval - elapsed
			time.Sleep(sleepTime)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
//
// Tool-call syntax is decoded once, up front, by internal/parser rather
// than inline here: raw provider deltas (which may arrive either as true
// incremental chunks or as the accumulated-so-far string, depending on
// provider) are first normalized to a plain delta, then fed through
// syntax.sp (XML/Caret, text-chunk driven) or syntax.np (Native,
// typed-delta driven). The resulting Fragments are the single source of
// truth for which text/thinking/tool-call parts exist.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	syntax *toolSyntaxParsers,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) string {
	var finishReason string

	// Normalize provider content to a true delta regardless of whether
	// this provider streams deltas or restates the full accumulated text
	// each chunk; downstream fragment parsers only ever see increments.
	var textDelta string
	if msg.Content != "" {
		if strings.HasPrefix(msg.Content, *accumulatedContent) {
			textDelta = msg.Content[len(*accumulatedContent):]
			*accumulatedContent = msg.Content
		} else {
			textDelta = msg.Content
			*accumulatedContent += msg.Content
		}
	}

	// Handle reasoning content (extended thinking). This is a distinct
	// provider side-channel, not part of the tool-call wire syntax, so it
	// bypasses the syntax parser.
	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
			callback(state.message, state.parts)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
			callback(state.message, state.parts)
		}
	}

	var frags []parser.Fragment
	if syntax.sp != nil {
		if textDelta != "" {
			frags = append(frags, syntax.sp.Feed(textDelta)...)
		}
	} else {
		if textDelta != "" {
			frags = append(frags, syntax.np.Feed(parser.NativeDelta{Text: textDelta})...)
		}
		// The eino streaming model uses Index to track tool calls:
		// - Start event: Index=N, ID="toolu_xxx", Name="Read"
		// - Delta events: Index=N, ID="", Name="", Arguments='{"partial...'
		for _, tc := range msg.ToolCalls {
			var toolID string
			if tc.ID != "" {
				toolID = tc.ID
				if tc.Index != nil {
					syntax.toolIndexToID[*tc.Index] = toolID
				}
			} else if tc.Index != nil {
				toolID = syntax.toolIndexToID[*tc.Index]
			}
			if toolID == "" {
				logging.Debug().Str("component", "stream").Msg("skipping tool call delta with no resolvable ID")
				continue
			}
			frags = append(frags, syntax.np.Feed(parser.NativeDelta{
				ToolID:    toolID,
				ToolName:  tc.Function.Name,
				InputJSON: tc.Function.Arguments,
			})...)
		}
	}

	p.applyFragments(frags, state, callback, currentTextPart, currentReasoningPart,
		currentToolParts, accumulatedToolInputs, lastEventTime)

	// Check for response metadata (token usage)
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}

		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}

		// Check finish reason
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}

// applyFragments turns the display-fragment alphabet from internal/parser
// into Part creation/updates, replacing the hand-rolled per-provider
// accumulation the teacher used before the tool-syntax parser existed.
func (p *Processor) applyFragments(
	frags []parser.Fragment,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) {
	for _, f := range frags {
		switch v := f.(type) {
		case parser.PlainText:
			p.appendTextDelta(state, currentTextPart, v.Text, lastEventTime, callback)

		case parser.ThinkingText:
			if *currentReasoningPart == nil {
				now := time.Now().UnixMilli()
				*currentReasoningPart = &types.ReasoningPart{
					ID:        generatePartID(),
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					Type:      "reasoning",
					Text:      v.Text,
					Time:      types.PartTime{Start: &now},
				}
				state.parts = append(state.parts, *currentReasoningPart)
			} else {
				(*currentReasoningPart).Text += v.Text
			}
			callback(state.message, state.parts)

		case parser.ToolName:
			now := time.Now().UnixMilli()
			toolPart := &types.ToolPart{
				ID:         generatePartID(),
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				Type:       "tool",
				ToolCallID: v.ToolID,
				ToolName:   v.Name,
				Input:      make(map[string]any),
				State:      "pending",
				Time:       types.PartTime{Start: &now},
			}
			logging.Debug().Str("component", "stream").
				Str("tool", toolPart.ToolName).
				Str("callID", toolPart.ToolCallID).
				Msg("created new tool part")
			currentToolParts[v.ToolID] = toolPart
			accumulatedToolInputs[v.ToolID] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)

			event.Publish(event.Event{
				Type: event.StartTool,
				Data: event.ToolStartData{
					SessionID: state.message.SessionID,
					MessageID: state.message.ID,
					ToolID:    toolPart.ID,
					ToolName:  toolPart.ToolName,
				},
			})

		case parser.ToolParameter:
			toolPart, ok := currentToolParts[v.ToolID]
			if !ok {
				continue
			}
			accumulatedToolInputs[v.ToolID] += v.ValueDelta

			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[v.ToolID]), &input); err == nil {
				toolPart.Input = input
			}

			event.Publish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{Part: toolPart},
			})
			event.Publish(event.Event{
				Type: event.UpdateToolParam,
				Data: event.ToolParamData{
					SessionID:  state.message.SessionID,
					ToolID:     toolPart.ID,
					ParamName:  "input",
					ValueDelta: v.ValueDelta,
				},
			})
			callback(state.message, state.parts)

		case parser.ToolEnd:
			// Finalization (state -> "running") happens once per stream
			// after the receive loop exits; nothing to do per-fragment.
		}
	}
}

// appendTextDelta appends an already-normalized text delta to the
// in-progress assistant text part, creating it on first use.
func (p *Processor) appendTextDelta(
	state *sessionState,
	currentTextPart **types.TextPart,
	delta string,
	lastEventTime *time.Time,
	callback ProcessCallback,
) {
	if delta == "" {
		return
	}
	if *currentTextPart == nil {
		now := time.Now().UnixMilli()
		*currentTextPart = &types.TextPart{
			ID:        generatePartID(),
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			Type:      "text",
			Text:      delta,
			Time:      types.PartTime{Start: &now},
		}
		state.parts = append(state.parts, *currentTextPart)
	} else {
		(*currentTextPart).Text += delta
	}

	throttledPublish(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{
			Part:  *currentTextPart,
			Delta: delta,
		},
	}, lastEventTime)

	callback(state.message, state.parts)
}
