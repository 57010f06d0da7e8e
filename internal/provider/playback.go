package provider

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/stippi/code-assistant/pkg/types"
)

// Playback replays a Tape's recorded turns in order instead of calling a
// real LLM, driving the --playback / --record CLI flags (§6): each
// CreateCompletion call consumes the tape's next turn, regardless of
// what request it receives (ReplayLoose in the pack's terms — see
// tape.Replayer), so a fixture can be replayed against a turn loop whose
// exact prompts have drifted slightly without failing on a strict match.
type Playback struct {
	tape  *Tape
	delay time.Duration

	mu   sync.Mutex
	next int
}

// NewPlayback creates a Playback provider over tape. delay is the
// per-chunk pause used to simulate real streaming latency; pass 0 for
// --fast-playback, a small delay (e.g. 20ms) for --playback.
func NewPlayback(tape *Tape, delay time.Duration) *Playback {
	return &Playback{tape: tape, delay: delay}
}

func (p *Playback) ID() string   { return "playback" }
func (p *Playback) Name() string { return "playback" }

func (p *Playback) Models() []types.Model {
	return []types.Model{{ID: p.tape.Model, Name: p.tape.Model}}
}

// ChatModel is not meaningful for playback: nothing calls through Eino's
// tool-calling chat model interface in this path, since CreateCompletion
// already returns the recorded stream directly.
func (p *Playback) ChatModel() model.ToolCallingChatModel { return nil }

// CreateCompletion returns the tape's next recorded turn as a stream,
// replaying its chunks with p.delay between each one. Returns
// ErrTapeExhausted once every recorded turn has been consumed.
func (p *Playback) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	p.mu.Lock()
	if p.next >= len(p.tape.Turns) {
		p.mu.Unlock()
		return nil, ErrTapeExhausted
	}
	turn := p.tape.Turns[p.next]
	p.next++
	p.mu.Unlock()

	reader, writer := schema.Pipe[*schema.Message](1)

	go func() {
		defer writer.Close()
		for _, chunk := range turn.Chunks {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					writer.Send(nil, ctx.Err())
					return
				}
			}
			if closed := writer.Send(chunk, nil); closed {
				return
			}
		}
	}()

	return NewCompletionStream(reader), nil
}
