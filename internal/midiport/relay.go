package midiport

import (
	"log"
	"sync"
	"time"
)

// DefaultQueueSize bounds the relay when no capacity is configured.
const DefaultQueueSize = 128

const dropLogInterval = 10 * time.Second

// Relay is a bounded FIFO between the driver callback and the
// dispatcher. When the dispatcher falls behind (a script stuck in its
// fix protocol, say) the relay drops the oldest messages first: fresher
// input is worth more than stale input once the script recovers.
type Relay struct {
	mu          sync.Mutex
	buf         [][]byte
	head        int
	n           int
	dropped     int64
	lastDropLog time.Time
}

// NewRelay returns a relay holding at most capacity messages.
func NewRelay(capacity int) *Relay {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Relay{buf: make([][]byte, capacity)}
}

// Push enqueues one message, evicting the oldest entry when full. The
// driver may reuse msg's backing array, so the bytes are copied here.
// Drops are counted and logged at most once per 10 seconds.
func (r *Relay) Push(msg []byte) {
	cp := make([]byte, len(msg))
	copy(cp, msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.dropped++
		if now := time.Now(); now.Sub(r.lastDropLog) >= dropLogInterval {
			log.Printf("midi in queue full, dropped %d oldest messages so far", r.dropped)
			r.lastDropLog = now
		}
	}
	r.buf[(r.head+r.n)%len(r.buf)] = cp
	r.n++
}

// Poll dequeues the oldest message, or reports false when the relay is
// empty. Never blocks.
func (r *Relay) Poll() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return nil, false
	}
	msg := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return msg, true
}

// Len reports how many messages are waiting.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Dropped reports how many messages have been evicted since start.
func (r *Relay) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
