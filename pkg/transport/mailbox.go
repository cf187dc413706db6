package transport

import (
	"sync"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
)

// mailbox delivers frames one at a time, in push order, on a single drain
// goroutine that exits when the queue is empty. push never blocks on
// delivery, so handlers may call back into the session.
type mailbox struct {
	deliver func(chatproto.Frame)

	mu      sync.Mutex
	queue   []item
	running bool
}

// item is either a frame or a callback run in sequence with frames.
type item struct {
	frame chatproto.Frame
	fn    func()
}

func (m *mailbox) push(f chatproto.Frame) {
	m.enqueue(item{frame: f})
}

func (m *mailbox) call(fn func()) {
	m.enqueue(item{fn: fn})
}

func (m *mailbox) enqueue(it item) {
	m.mu.Lock()
	m.queue = append(m.queue, it)
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	go m.drain()
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		it := m.queue[0]
		m.queue[0] = item{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		if it.fn != nil {
			it.fn()
			continue
		}
		m.deliver(it.frame)
	}
}
