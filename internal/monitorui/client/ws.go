// Package client maintains the websocket subscription to a running mep
// and surfaces everything it hears as Bubble Tea messages.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/mep-live/mep/internal/status"
	"github.com/mep-live/mep/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Client manages the WebSocket connection to a mep status server.
type Client struct {
	url   string
	token string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (pings)
	conn    *websocket.Conn
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// New creates a client that connects to the given WebSocket URL. The
// token is presented at dial time when non-empty.
func New(url, token string) *Client {
	return &Client{url: url, token: token}
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the WebSocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// StateMsg delivers a full status snapshot.
type StateMsg struct{ State status.State }

// EventMsg delivers one feed moment.
type EventMsg struct{ Event status.Event }

// envelope is the receive-side view of ws.WSMessage: the payload stays
// raw until the type is known.
type envelope struct {
	Type    ws.MessageType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Listen returns a Bubble Tea command that connects and reports
// ConnectedMsg. It retries with exponential backoff until the context
// is cancelled, so a monitor started before mep just waits.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header())
			if err != nil {
				log.Printf("ws dial error: %v (retry in %v)", err, delay)
				time.Sleep(delay)
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			// Cancel any previous ping goroutine.
			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return ConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads until a message
// worth surfacing arrives. It should be re-armed after every message,
// starting with ConnectedMsg.
func (c *Client) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err}
			}

			var msg envelope
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			teaMsg := dispatch(msg)
			if teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// Reconnect drops the current connection. The pending ReadLoop command
// reports the disconnect, which re-arms Listen.
func (c *Client) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// pingLoop sends periodic pings on the given connection. It exits when
// the context is cancelled or the connection changes.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) header() http.Header {
	if c.token == "" {
		return nil
	}
	h := make(http.Header)
	h.Set("X-Mep-Token", c.token)
	return h
}

func dispatch(msg envelope) tea.Msg {
	switch msg.Type {
	case ws.MsgStatus:
		var p ws.StatusPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return StateMsg{State: p.State}
		}
	case ws.MsgEvent:
		var p ws.EventPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return EventMsg{Event: p.Event}
		}
	}
	return nil
}
