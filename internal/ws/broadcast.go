package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mep-live/mep/internal/status"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans the tracker's state out to every connected monitor.
// Status rebroadcasts are throttled; events go out immediately.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	tracker        *status.Tracker
	throttle       time.Duration
	snapshotTicker *time.Ticker

	flushMu    sync.Mutex
	dirty      bool
	flushTimer *time.Timer
}

func NewBroadcaster(tracker *status.Tracker, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		tracker:  tracker,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Stop ends the periodic snapshot loop.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
}

// AddClient registers conn and sends it the current state right away,
// so a monitor is useful before the first change comes in.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, err := json.Marshal(statusMessage(b.tracker.Snapshot()))
	if err == nil {
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the snapshot
		}
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueStatus schedules a rebroadcast of the tracker state. Call it as
// often as state changes; at most one message goes out per throttle
// window.
func (b *Broadcaster) QueueStatus() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.dirty = true
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// PublishEvent pushes one feed moment, bypassing the throttle.
func (b *Broadcaster) PublishEvent(ev status.Event) {
	b.broadcast(WSMessage{Type: MsgEvent, Payload: EventPayload{Event: ev}})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	dirty := b.dirty
	b.dirty = false
	b.flushTimer = nil
	b.flushMu.Unlock()

	if !dirty {
		return
	}
	b.broadcast(statusMessage(b.tracker.Snapshot()))
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(statusMessage(b.tracker.Snapshot()))
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func statusMessage(st status.State) WSMessage {
	return WSMessage{Type: MsgStatus, Payload: StatusPayload{State: st}}
}
