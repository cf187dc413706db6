package transcript

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/dispatch"
)

// Reducer owns one transcript State and applies frames to it in the order
// they are dispatched.
type Reducer struct {
	t Transitions

	mu       sync.Mutex
	state    State
	onChange func()
}

func NewReducer(t Transitions) *Reducer {
	return &Reducer{t: t}
}

// OnChange registers fn to be called after every state change. fn runs
// outside the reducer lock and should read Snapshot for the new state.
func (r *Reducer) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (r *Reducer) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Apply folds one frame into the transcript.
func (r *Reducer) Apply(f chatproto.Frame) {
	if f.Type == chatproto.TypeHistory {
		if _, err := f.History(); err != nil {
			log.Warn().Err(err).Str("component", "transcript").Msg("dropping history frame")
			return
		}
	}
	r.update(func(s State) State { return r.t.Apply(s, f) })
}

// AppendUser records a locally sent user message.
func (r *Reducer) AppendUser(text string) {
	r.update(func(s State) State { return r.t.UserSent(s, text) })
}

// Reset clears the transcript and flags.
func (r *Reducer) Reset() {
	r.update(func(State) State { return State{} })
}

// Attach subscribes the reducer to the four transcript frame types and
// returns a function that removes those subscriptions.
func (r *Reducer) Attach(reg *dispatch.Registry) func() {
	types := []chatproto.FrameType{
		chatproto.TypeHistory,
		chatproto.TypeResponseStream,
		chatproto.TypeFullText,
		chatproto.TypeControl,
	}
	subs := make([]dispatch.Subscription, 0, len(types))
	for _, typ := range types {
		subs = append(subs, reg.Subscribe(typ, r.Apply))
	}
	return func() {
		for _, s := range subs {
			reg.Unsubscribe(s)
		}
	}
}

func (r *Reducer) update(fn func(State) State) {
	r.mu.Lock()
	r.state = fn(r.state)
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}
