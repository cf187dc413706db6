// Package chat binds a transport session, a dispatch registry and a
// transcript reducer into one object per conversation, exposing the
// connect/disconnect/send surface and observable state to a UI.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/dispatch"
	"github.com/go-go-golems/tutorchat/pkg/transcript"
	"github.com/go-go-golems/tutorchat/pkg/transport"
)

// State is what a UI renders.
type State struct {
	ConversationID string
	Transcript     []transcript.Turn
	// Connected is true between a connect lifecycle frame and the next close.
	Connected bool
	Streaming bool
	// Typing is true from a user send until the assistant reply is final.
	Typing bool
	// LastError holds the latest transport or server error text; cleared on
	// connect.
	LastError string
}

type Option func(*config) error

type config struct {
	registry    *dispatch.Registry
	transitions transcript.Transitions
	transport   []transport.SessionOption
}

// WithRegistry shares an existing registry, for example with a frame mirror.
func WithRegistry(reg *dispatch.Registry) Option {
	return func(c *config) error {
		c.registry = reg
		return nil
	}
}

func WithTransitions(t transcript.Transitions) Option {
	return func(c *config) error {
		c.transitions = t
		return nil
	}
}

func WithTransportOptions(opts ...transport.SessionOption) Option {
	return func(c *config) error {
		c.transport = append(c.transport, opts...)
		return nil
	}
}

// Session is the per-conversation facade.
type Session struct {
	transport *transport.Session
	registry  *dispatch.Registry
	reducer   *transcript.Reducer
	logger    zerolog.Logger
	detach    func()
	subs      []dispatch.Subscription

	mu        sync.Mutex
	convID    string
	connected bool
	lastErr   string

	watchMu  sync.Mutex
	watchers map[int]chan State
	nextID   int
}

func NewSession(dialer transport.Dialer, options ...Option) (*Session, error) {
	cfg := &config{}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, errors.Wrap(err, "apply chat option")
		}
	}
	if cfg.registry == nil {
		cfg.registry = dispatch.NewRegistry()
	}
	s := &Session{
		registry: cfg.registry,
		reducer:  transcript.NewReducer(cfg.transitions),
		logger:   log.With().Str("component", "chat").Logger(),
		watchers: map[int]chan State{},
	}
	topts := append(append([]transport.SessionOption(nil), cfg.transport...), transport.WithDropHandler(s.onDrop))
	ts, err := transport.NewSession(dialer, cfg.registry, topts...)
	if err != nil {
		return nil, errors.Wrap(err, "create transport session")
	}
	s.transport = ts
	s.reducer.OnChange(s.notify)
	s.detach = s.reducer.Attach(s.registry)
	s.subs = []dispatch.Subscription{
		s.registry.Subscribe(chatproto.TypeConnect, s.onConnect),
		s.registry.Subscribe(chatproto.TypeClose, s.onClose),
		s.registry.Subscribe(chatproto.TypeError, s.onError),
	}
	return s, nil
}

// Registry exposes the dispatch registry so other listeners can subscribe.
func (s *Session) Registry() *dispatch.Registry {
	return s.registry
}

// Transport exposes the underlying session for status reads.
func (s *Session) Transport() *transport.Session {
	return s.transport
}

// Connect opens the conversation. Switching to a different conversation id
// tears down whatever the previous one still holds (socket, dial or retry)
// and clears the transcript; reconnecting to the same one keeps it until the
// backend replays history. Messages typed before the first connect are kept.
func (s *Session) Connect(convID string) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		s.logger.Debug().Msg("connect without conversation id ignored")
		return
	}
	s.mu.Lock()
	prev := s.convID
	s.mu.Unlock()
	switched := prev != "" && prev != convID
	if switched {
		if st := s.transport.Status(); st.ConversationID != "" {
			s.logger.Info().Str("from", prev).Str("to", convID).Msg("switching conversation")
			s.transport.Disconnect()
		}
		s.reducer.Reset()
	}
	s.mu.Lock()
	s.convID = convID
	s.mu.Unlock()
	s.transport.Connect(convID)
}

func (s *Session) Disconnect() {
	s.transport.Disconnect()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.notify()
}

// SendMessage trims text, records it as a user turn and hands it to the
// transport. Blank input is ignored. The result reports whether the message
// went out immediately (false means buffered or ignored).
func (s *Session) SendMessage(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	s.reducer.AppendUser(trimmed)
	return s.transport.Send(trimmed)
}

func (s *Session) Snapshot() State {
	ts := s.reducer.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ConversationID: s.convID,
		Transcript:     ts.Turns,
		Connected:      s.connected,
		Streaming:      ts.Streaming,
		Typing:         ts.Typing,
		LastError:      s.lastErr,
	}
}

// Watch streams state snapshots until ctx is done. Slow readers only see
// the latest state; delivery never blocks frame dispatch.
func (s *Session) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.Snapshot()
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, id)
		close(ch)
		s.watchMu.Unlock()
	}()
	return ch
}

// Close disconnects and releases every registry subscription the facade
// holds.
func (s *Session) Close() {
	s.Disconnect()
	s.detach()
	for _, sub := range s.subs {
		s.registry.Unsubscribe(sub)
	}
}

func (s *Session) onConnect(chatproto.Frame) {
	s.mu.Lock()
	s.connected = true
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
}

// onDrop runs when the socket is lost and the transport is about to retry
// or give up; sends are buffered from here until the next connect.
func (s *Session) onDrop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onClose(chatproto.Frame) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onError(f chatproto.Frame) {
	msg := f.Text()
	if f.Err != nil {
		msg = f.Err.Error()
	}
	s.logger.Warn().Str("error", msg).Bool("lifecycle", f.IsLifecycle()).Msg("chat error")
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
