// Package transcript assembles the ordered conversation transcript from
// dispatched frames.
//
// State transitions are pure: every function takes a State and returns a new
// one without mutating the input, so snapshots handed to observers stay
// stable. Reducer wraps the transitions with ownership and change
// notification.
package transcript

import (
	"github.com/google/uuid"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Pending bool   `json:"pending"`
}

type slot struct {
	idx int
	ok  bool
}

// State is the transcript plus the transient flags observed by the UI.
// At most one turn is pending and, when present, it is the last turn.
type State struct {
	Turns     []Turn
	Streaming bool
	Typing    bool

	pending slot
	// done marks an assistant turn closed by [DONE] that has not yet
	// received its full_text.
	done slot
}

// Pending returns the trailing pending turn, if any.
func (s State) Pending() (Turn, bool) {
	if !s.pending.ok {
		return Turn{}, false
	}
	return s.Turns[s.pending.idx], true
}

// Last returns the last turn, if any.
func (s State) Last() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Clone returns a deep copy whose Turns can be retained by the caller.
func (s State) Clone() State {
	out := s
	out.Turns = append([]Turn(nil), s.Turns...)
	return out
}

// Transitions holds the id source and policy for the transcript state
// machine.
type Transitions struct {
	// NewID returns a unique turn id; uuid.NewString when nil.
	NewID func() string
	// ReconcileFullText lets a full_text replace the content of the assistant
	// turn that a preceding [DONE] finalized, instead of appending a new turn.
	ReconcileFullText bool
}

func (t Transitions) id() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return uuid.NewString()
}

// Apply routes a dispatched frame to its transition. Frames the transcript
// does not understand leave the state unchanged.
func (t Transitions) Apply(s State, f chatproto.Frame) State {
	switch f.Type {
	case chatproto.TypeHistory:
		entries, err := f.History()
		if err != nil {
			return s
		}
		return t.History(s, entries)
	case chatproto.TypeResponseStream:
		return t.Stream(s, f.Chunk())
	case chatproto.TypeFullText:
		return t.FullText(s, f.Text())
	case chatproto.TypeControl:
		return t.Control(s, f.Text())
	default:
		return s
	}
}

// History replaces the whole transcript with the replayed turns. Anything
// streamed before the replay is discarded.
func (t Transitions) History(s State, entries []chatproto.HistoryEntry) State {
	turns := make([]Turn, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, Turn{ID: t.id(), Role: Role(e.Role), Content: e.Content})
	}
	return State{Turns: turns, Typing: s.Typing}
}

// Stream grows the pending assistant turn by chunk, opening one if needed.
func (t Transitions) Stream(s State, chunk string) State {
	out := s.Clone()
	out.Streaming = true
	out.done = slot{}
	if out.pending.ok {
		out.Turns[out.pending.idx].Content += chunk
		return out
	}
	out.Turns = append(out.Turns, Turn{ID: t.id(), Role: RoleAssistant, Content: chunk, Pending: true})
	out.pending = slot{idx: len(out.Turns) - 1, ok: true}
	return out
}

// FullText finalizes the pending turn with the authoritative text, or
// appends an already final assistant turn when nothing is pending.
func (t Transitions) FullText(s State, text string) State {
	out := s.Clone()
	out.Streaming = false
	out.Typing = false
	switch {
	case out.pending.ok:
		turn := &out.Turns[out.pending.idx]
		turn.Content = text
		turn.Pending = false
		out.pending = slot{}
	case t.ReconcileFullText && out.done.ok:
		out.Turns[out.done.idx].Content = text
	default:
		out.Turns = append(out.Turns, Turn{ID: t.id(), Role: RoleAssistant, Content: text})
	}
	out.done = slot{}
	return out
}

// Control reacts to [DONE] by closing the pending turn without touching its
// content. Other payloads are ignored.
func (t Transitions) Control(s State, payload string) State {
	if payload != chatproto.ControlDone {
		return s
	}
	out := s.Clone()
	out.Streaming = false
	out.Typing = false
	if out.pending.ok {
		out.Turns[out.pending.idx].Pending = false
		out.done = out.pending
		out.pending = slot{}
	}
	return out
}

// UserSent appends a finalized user turn and marks the assistant as
// composing. A pending assistant turn is closed first so it stays the last
// turn while it exists.
func (t Transitions) UserSent(s State, text string) State {
	out := s.Clone()
	if out.pending.ok {
		out.Turns[out.pending.idx].Pending = false
		out.pending = slot{}
	}
	out.done = slot{}
	out.Streaming = false
	out.Typing = true
	out.Turns = append(out.Turns, Turn{ID: t.id(), Role: RoleUser, Content: text})
	return out
}
