package transport

import (
	"github.com/go-go-golems/tutorchat/pkg/chatproto"
)

// DefaultURLTemplate addresses the tutor chat endpoint; {id} is replaced by
// the path-escaped conversation id.
const DefaultURLTemplate = "ws://localhost:8000/ws/chat/{id}"

type SessionOption func(*Session) error

func WithURLTemplate(tmpl string) SessionOption {
	return func(s *Session) error {
		s.urlTemplate = tmpl
		return nil
	}
}

func WithMaxAttempts(n int) SessionOption {
	return func(s *Session) error {
		s.maxAttempts = n
		return nil
	}
}

func WithBackoff(b Backoff) SessionOption {
	return func(s *Session) error {
		s.backoff = b
		return nil
	}
}

// WithScheduler replaces the wall clock used for reconnect timers.
func WithScheduler(sch Scheduler) SessionOption {
	return func(s *Session) error {
		s.scheduler = sch
		return nil
	}
}

func WithDecoder(d chatproto.Decoder) SessionOption {
	return func(s *Session) error {
		s.decoder = d
		return nil
	}
}

// WithDropHandler registers fn to run when a live connection is lost
// without a manual disconnect. It is delivered in order with frames, before
// the retry policy decides between reconnecting and a terminal close.
func WithDropHandler(fn func()) SessionOption {
	return func(s *Session) error {
		s.onDrop = fn
		return nil
	}
}
