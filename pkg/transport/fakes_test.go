package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/dispatch"
)

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	endErr  error
	writes  []string
	failing bool
	// stall, when set, holds every write until it is closed.
	stall     chan struct{}
	stalled   chan struct{}
	stallOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.endErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	stall, stalled := c.stall, c.stalled
	c.mu.Unlock()
	if stall != nil {
		c.stallOnce.Do(func() { close(stalled) })
		<-stall
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes = append(c.writes, string(data))
	return nil
}

// stallWrites makes writes block until release is called. The returned
// channel is closed once a write is stuck.
func (c *fakeConn) stallWrites() (stuck <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = make(chan struct{})
	c.stalled = make(chan struct{})
	stall := c.stall
	var once sync.Once
	return c.stalled, func() { once.Do(func() { close(stall) }) }
}

func (c *fakeConn) Close() error {
	c.end(net.ErrClosed)
	return nil
}

// end terminates the connection; the pending read returns err.
func (c *fakeConn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.endErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// push hands one message to the reader and waits until it was taken.
func (c *fakeConn) push(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.inbound <- []byte(raw):
	case <-time.After(time.Second):
		t.Fatalf("reader did not take %s", raw)
	}
}

type dialStep func(ctx context.Context) (Conn, error)

type fakeDialer struct {
	mu     sync.Mutex
	addrs  []string
	script []dialStep
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, addr)
	var step dialStep
	if len(d.script) > 0 {
		step = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()
	if step != nil {
		return step(ctx)
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) then(steps ...dialStep) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, steps...)
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addrs)
}

func (d *fakeDialer) addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.conns) > i
	}, time.Second, 5*time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func failDial(err error) dialStep {
	return func(context.Context) (Conn, error) { return nil, err }
}

func blockDial(started chan<- struct{}) dialStep {
	return func(ctx context.Context) (Conn, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.d)
	}
	return out
}

func (s *fakeScheduler) timer(t *testing.T, i int) *fakeTimer {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() > i }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs timer i as if it elapsed, even when stopped, to exercise races
// between Stop and an already firing timer.
func (s *fakeScheduler) fire(t *testing.T, i int) {
	s.timer(t, i).f()
}

type recorder struct {
	mu     sync.Mutex
	frames []chatproto.Frame
}

func newRecorder(reg *dispatch.Registry, types ...chatproto.FrameType) *recorder {
	r := &recorder{}
	for _, typ := range types {
		reg.Subscribe(typ, func(f chatproto.Frame) {
			r.mu.Lock()
			r.frames = append(r.frames, f)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) types() []chatproto.FrameType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chatproto.FrameType, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) count(typ chatproto.FrameType) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

var allTypes = []chatproto.FrameType{
	chatproto.TypeConnect,
	chatproto.TypeClose,
	chatproto.TypeError,
	chatproto.TypeHistory,
	chatproto.TypeResponseStream,
	chatproto.TypeFullText,
	chatproto.TypeControl,
}

func newTestSession(t *testing.T, options ...SessionOption) (*Session, *fakeDialer, *fakeScheduler, *recorder) {
	t.Helper()
	d := &fakeDialer{}
	sch := &fakeScheduler{}
	reg := dispatch.NewRegistry()
	rec := newRecorder(reg, allTypes...)
	s, err := NewSession(d, reg, append([]SessionOption{WithScheduler(sch)}, options...)...)
	require.NoError(t, err)
	return s, d, sch, rec
}
