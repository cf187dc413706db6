package cmds

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/tutorchat/pkg/chat"
	"github.com/go-go-golems/tutorchat/pkg/transcript"
)

// renderer prints state snapshots as an append-only terminal log. Streaming
// turns are printed incrementally; a turn whose text was replaced by a
// full_text, before or after it was closed, is printed again in full.
type renderer struct {
	w io.Writer

	ids       []string
	printed   map[string]string
	finished  map[string]bool
	connected bool
	lastError string
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{
		w:        w,
		printed:  map[string]string{},
		finished: map[string]bool{},
	}
}

func (r *renderer) Render(st chat.State) {
	if st.Connected != r.connected {
		r.connected = st.Connected
		if st.Connected {
			fmt.Fprintf(r.w, "[connected to %s]\n", st.ConversationID)
		} else {
			fmt.Fprintln(r.w, "[disconnected]")
		}
	}
	if st.LastError != "" && st.LastError != r.lastError {
		fmt.Fprintf(r.w, "[error] %s\n", st.LastError)
	}
	r.lastError = st.LastError

	if r.replaced(st.Transcript) {
		r.ids = nil
		r.printed = map[string]string{}
		r.finished = map[string]bool{}
		if len(st.Transcript) > 0 {
			fmt.Fprintln(r.w, "[history]")
		}
	}

	for i, t := range st.Transcript {
		if i >= len(r.ids) {
			r.ids = append(r.ids, t.ID)
			fmt.Fprintf(r.w, "%s> ", label(t.Role))
		}
		prev := r.printed[t.ID]
		if r.finished[t.ID] {
			// a full_text reconciled into a turn that [DONE] already closed
			if t.Content != prev {
				fmt.Fprintf(r.w, "%s> %s\n", label(t.Role), t.Content)
				r.printed[t.ID] = t.Content
			}
			continue
		}
		switch {
		case strings.HasPrefix(t.Content, prev):
			fmt.Fprint(r.w, t.Content[len(prev):])
		default:
			fmt.Fprintf(r.w, "\n%s> %s", label(t.Role), t.Content)
		}
		r.printed[t.ID] = t.Content
		if !t.Pending {
			fmt.Fprintln(r.w)
			r.finished[t.ID] = true
		}
	}
}

// replaced reports whether turns no longer extend what was printed, which
// happens when a history frame swaps the transcript.
func (r *renderer) replaced(turns []transcript.Turn) bool {
	if len(turns) < len(r.ids) {
		return true
	}
	for i, id := range r.ids {
		if turns[i].ID != id {
			return true
		}
	}
	return false
}

func label(role transcript.Role) string {
	if role == transcript.RoleUser {
		return "you"
	}
	return "tutor"
}
