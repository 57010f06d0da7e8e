package provider

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/cloudwego/eino/schema"
)

// ErrTapeExhausted indicates a Playback provider has no more turns to
// replay, mirroring the teacher's recording/replay tooling exhaustion
// signal for agentic-loop tests.
var ErrTapeExhausted = errors.New("provider: tape exhausted, no more turns to replay")

// Tape is a recorded sequence of completion turns, serializable to JSON
// so a conversation can be captured once (via Recorder) and replayed
// deterministically and without API cost (via Playback) in tests or demos.
type Tape struct {
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	Model     string     `json:"model,omitempty"`
	Turns     []TapeTurn `json:"turns"`
}

// TapeTurn is one recorded CreateCompletion call: the request sent and
// the sequence of message chunks the stream yielded back.
type TapeTurn struct {
	Request *CompletionRequest `json:"request"`
	Chunks  []*schema.Message  `json:"chunks"`
}

// NewTape creates a new empty tape for the given model.
func NewTape(modelID string) *Tape {
	return &Tape{Version: "1", CreatedAt: time.Now(), Model: modelID}
}

// AddTurn appends a recorded turn to the tape.
func (t *Tape) AddTurn(turn TapeTurn) {
	t.Turns = append(t.Turns, turn)
}

// LoadTape reads and decodes a tape from path.
func LoadTape(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	return &tape, nil
}

// Save serializes the tape to path as indented JSON.
func (t *Tape) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
