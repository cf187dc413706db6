// Package transport owns the persistent chat connection for one
// conversation: connect and reconnect with exponential backoff, buffering of
// messages sent while offline, and serial delivery of inbound and lifecycle
// frames into a dispatch registry.
package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/dispatch"
)

// Session is reused across reconnects; only the underlying Conn changes.
// All frames are delivered to the registry from one goroutine at a time, in
// the order they were produced.
type Session struct {
	dialer      Dialer
	registry    *dispatch.Registry
	urlTemplate string
	maxAttempts int
	backoff     Backoff
	scheduler   Scheduler
	decoder     chatproto.Decoder
	logger      zerolog.Logger
	box         *mailbox
	onDrop      func()

	// wmu serializes socket writes; it is never held together with mu.
	wmu sync.Mutex

	mu     sync.Mutex
	convID string
	conn   Conn
	// open is set once the connect frame was emitted and the pending queue
	// flushed; Send writes directly only while it is set.
	open       bool
	dialing    bool
	cancelDial context.CancelFunc
	// gen invalidates readers, dials and timers of torn down connections.
	gen     uint64
	attempt int
	retry   Timer
	pending []chatproto.OutboundMessage
}

// Status is a read-only view of the session.
type Status struct {
	ConversationID string
	Connected      bool
	Connecting     bool
	Attempt        int
	RetryScheduled bool
	Pending        int
}

func NewSession(dialer Dialer, registry *dispatch.Registry, options ...SessionOption) (*Session, error) {
	if dialer == nil {
		return nil, ErrNoDialer
	}
	if registry == nil {
		registry = dispatch.NewRegistry()
	}
	s := &Session{
		dialer:      dialer,
		registry:    registry,
		urlTemplate: DefaultURLTemplate,
		maxAttempts: DefaultMaxAttempts,
		backoff:     Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay},
		scheduler:   wallClock{},
		logger:      log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "apply session option")
		}
	}
	if !strings.Contains(s.urlTemplate, "{id}") {
		return nil, errors.Errorf("url template %q has no {id} placeholder", s.urlTemplate)
	}
	s.box = &mailbox{deliver: s.registry.Dispatch}
	return s, nil
}

// Registry returns the registry frames are dispatched to.
func (s *Session) Registry() *dispatch.Registry {
	return s.registry
}

// Address returns the connection address for convID.
func (s *Session) Address(convID string) string {
	return strings.ReplaceAll(s.urlTemplate, "{id}", url.PathEscape(convID))
}

// Connect opens a connection for convID. It is a no-op while a connection is
// open or an attempt is in flight.
func (s *Session) Connect(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil || s.dialing {
		s.logger.Debug().Str("conv_id", s.convID).Msg("already connecting or connected")
		return
	}
	// an explicit connect after the retry budget ran out starts a fresh budget
	if s.retry == nil {
		s.attempt = 0
	}
	s.stopRetryLocked()
	s.convID = convID
	s.startDialLocked()
}

// Send transmits text immediately when the connection is open and reports
// true. Otherwise the message is queued for the next successful open and
// Send reports false.
func (s *Session) Send(text string) bool {
	msg := chatproto.NewOutbound(text)

	s.mu.Lock()
	if !s.open || s.conn == nil {
		s.pending = append(s.pending, msg)
		s.logger.Debug().Str("conv_id", s.convID).Int("pending", len(s.pending)).Msg("buffered outbound message")
		s.mu.Unlock()
		return false
	}
	conn, convID := s.conn, s.convID
	s.mu.Unlock()

	err := s.write(conn, msg)
	if err == nil {
		return true
	}

	s.mu.Lock()
	s.logger.Warn().Err(err).Str("conv_id", s.convID).Msg("send failed, buffering")
	// a manual disconnect or a switch in the meantime dropped the queue
	if s.convID == convID {
		s.pending = append(s.pending, msg)
	}
	broken := s.conn == conn
	if broken {
		s.open = false
	}
	s.mu.Unlock()
	if broken {
		// the read loop observes the close and runs the retry policy
		_ = conn.Close()
	}
	return false
}

// Disconnect tears the session down on purpose: it cancels any scheduled
// retry or dial in flight, closes the socket without triggering the retry
// policy, and drops queued messages. Safe to call at any time.
func (s *Session) Disconnect() {
	s.mu.Lock()
	active := s.conn != nil || s.dialing || s.retry != nil
	s.stopRetryLocked()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	conn := s.conn
	s.gen++
	s.conn = nil
	s.open = false
	s.dialing = false
	s.attempt = 0
	s.pending = nil
	convID := s.convID
	s.convID = ""
	if active {
		s.box.push(chatproto.Closed())
	}
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Str("conv_id", convID).Msg("close after manual disconnect")
		}
	}
	s.logger.Info().Str("conv_id", convID).Bool("was_active", active).Msg("manual disconnect")
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ConversationID: s.convID,
		Connected:      s.open,
		Connecting:     s.dialing,
		Attempt:        s.attempt,
		RetryScheduled: s.retry != nil,
		Pending:        len(s.pending),
	}
}

func (s *Session) startDialLocked() {
	s.gen++
	gen := s.gen
	s.dialing = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	addr := s.Address(s.convID)
	s.logger.Info().Str("conv_id", s.convID).Str("addr", addr).Int("attempt", s.attempt).Msg("connecting")
	go s.dial(ctx, gen, addr)
}

func (s *Session) dial(ctx context.Context, gen uint64, addr string) {
	conn, err := s.dialer.Dial(ctx, addr)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.dialing = false
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("conv_id", s.convID).Str("addr", addr).Msg("dial failed")
		s.box.push(chatproto.TransportError(err))
		s.handleCloseLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.attempt = 0
	s.logger.Info().Str("conv_id", s.convID).Msg("connected")
	s.box.push(chatproto.Connected())
	s.mu.Unlock()

	s.flush(gen, conn)
	s.readLoop(gen, conn)
}

// flush writes the pending queue in order and then marks the session open.
// Messages queued while a batch is being written are picked up by the next
// round. On a write failure the unsent remainder is put back in front of
// the queue and the socket is closed so the retry policy takes over.
func (s *Session) flush(gen uint64, conn Conn) {
	for {
		s.mu.Lock()
		if gen != s.gen || s.conn != conn {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		if len(batch) == 0 {
			s.open = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		for i, msg := range batch {
			err := s.write(conn, msg)
			if err == nil {
				continue
			}
			s.mu.Lock()
			stale := gen != s.gen
			if !stale {
				s.pending = append(append([]chatproto.OutboundMessage(nil), batch[i:]...), s.pending...)
			}
			s.logger.Warn().Err(err).Str("conv_id", s.convID).Int("pending", len(s.pending)).Msg("flush failed")
			s.mu.Unlock()
			if !stale {
				_ = conn.Close()
			}
			return
		}
	}
}

func (s *Session) write(conn Conn, msg chatproto.OutboundMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return errors.Wrap(conn.WriteMessage(data), "write outbound message")
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(gen, conn, err)
			return
		}
		f, err := s.decoder.Decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.logger.Trace().Str("type", string(f.Type)).Msg("frame received")
		s.box.push(f)
		s.mu.Unlock()
	}
}

func (s *Session) connectionLost(gen uint64, conn Conn, err error) {
	defer func() { _ = conn.Close() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if IsOrderlyClose(err) {
		s.logger.Info().Err(err).Str("conv_id", s.convID).Msg("connection closed")
	} else {
		s.logger.Warn().Err(err).Str("conv_id", s.convID).Msg("connection error")
		s.box.push(chatproto.TransportError(err))
	}
	s.conn = nil
	s.open = false
	if s.onDrop != nil {
		s.box.call(s.onDrop)
	}
	s.handleCloseLocked()
}

// handleCloseLocked applies the retry policy after an unexpected close.
func (s *Session) handleCloseLocked() {
	if s.convID != "" && s.attempt < s.maxAttempts {
		delay := s.backoff.Delay(s.attempt)
		s.attempt++
		gen := s.gen
		s.retry = s.scheduler.AfterFunc(delay, func() { s.retryFired(gen) })
		s.logger.Info().Str("conv_id", s.convID).Int("attempt", s.attempt).Dur("delay", delay).Msg("reconnect scheduled")
		return
	}
	s.logger.Warn().Str("conv_id", s.convID).Int("attempts", s.attempt).Msg("giving up reconnecting")
	s.box.push(chatproto.Closed())
}

func (s *Session) retryFired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.retry == nil {
		return
	}
	s.retry = nil
	if s.conn != nil || s.dialing {
		return
	}
	s.startDialLocked()
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}
