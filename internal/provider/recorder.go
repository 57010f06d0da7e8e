package provider

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/stippi/code-assistant/pkg/types"
)

// Recorder wraps a Provider, capturing every CreateCompletion call's
// request and streamed response chunks into a Tape, so a conversation
// driven by a real provider can be saved once and replayed later via
// Playback without further API cost. Mirrors the pack's tape.Recorder,
// which taps a live provider's stream the same way.
type Recorder struct {
	underlying Provider
	mu         sync.Mutex
	tape       *Tape
}

// NewRecorder wraps underlying, recording into a fresh tape.
func NewRecorder(underlying Provider) *Recorder {
	return &Recorder{underlying: underlying, tape: NewTape("")}
}

func (r *Recorder) ID() string   { return r.underlying.ID() }
func (r *Recorder) Name() string { return "recorder:" + r.underlying.Name() }

func (r *Recorder) Models() []types.Model { return r.underlying.Models() }

func (r *Recorder) ChatModel() model.ToolCallingChatModel { return r.underlying.ChatModel() }

// CreateCompletion proxies to the underlying provider, tee-ing every
// chunk of the response into the tape as it streams through.
func (r *Recorder) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	upstream, err := r.underlying.CreateCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](1)

	go func() {
		var chunks []*schema.Message
		for {
			msg, recvErr := upstream.Recv()
			if recvErr != nil {
				writer.Send(nil, recvErr)
				break
			}
			chunks = append(chunks, msg)
			if closed := writer.Send(msg, nil); closed {
				break
			}
		}
		writer.Close()
		upstream.Close()

		r.mu.Lock()
		if r.tape.Model == "" {
			r.tape.Model = req.Model
		}
		r.tape.AddTurn(TapeTurn{Request: req, Chunks: chunks})
		r.mu.Unlock()
	}()

	return NewCompletionStream(reader), nil
}

// Tape returns the tape recorded so far. Safe to call mid-conversation;
// callers typically Save it to disk once the session they want to
// capture has ended.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape
}
