package rocketchat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	callTimeout = 15 * time.Second
	readLimit   = 1 << 20 // 1MB
)

// ddpMessage is the wire frame of the DDP protocol Rocket.Chat's realtime
// API speaks. One struct covers both directions; unused fields stay empty.
type ddpMessage struct {
	Msg        string            `json:"msg,omitempty"`
	ID         string            `json:"id,omitempty"`
	Session    string            `json:"session,omitempty"`
	Version    string            `json:"version,omitempty"`
	Support    []string          `json:"support,omitempty"`
	Method     string            `json:"method,omitempty"`
	Name       string            `json:"name,omitempty"`
	Params     []json.RawMessage `json:"params,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Fields     json.RawMessage   `json:"fields,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      *ddpError         `json:"error,omitempty"`
}

type ddpError struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (e *ddpError) String() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return e.Reason
	}
	return e.Message
}

// changedHandler receives document-changed events for a collection.
type changedHandler func(collection string, fields json.RawMessage)

// ddpClient is a minimal DDP client over a websocket connection: connect
// handshake, method calls with result correlation, subscriptions, and
// server ping handling. A mutex serializes writes; reads happen on a
// single loop goroutine.
type ddpClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan ddpMessage
	onChanged changedHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// dialDDP connects to the realtime endpoint and performs the DDP connect
// handshake. The caller owns the returned client and must call close.
func dialDDP(ctx context.Context, wsURL string, onChanged changedHandler) (*ddpClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rocketchat: dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(readLimit)

	c := &ddpClient{
		conn:      conn,
		pending:   make(map[string]chan ddpMessage),
		onChanged: onChanged,
		closed:    make(chan struct{}),
	}

	if err := c.write(ddpMessage{Msg: "connect", Version: "1", Support: []string{"1"}}); err != nil {
		c.close()
		return nil, fmt.Errorf("rocketchat: connect handshake: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *ddpClient) write(msg ddpMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *ddpClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// done is closed when the connection is gone, whatever the reason.
func (c *ddpClient) done() <-chan struct{} { return c.closed }

// readLoop dispatches incoming frames until the connection drops.
func (c *ddpClient) readLoop() {
	defer c.close()
	for {
		var msg ddpMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Msg {
		case "ping":
			_ = c.write(ddpMessage{Msg: "pong", ID: msg.ID})
		case "result":
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		case "changed":
			if c.onChanged != nil {
				c.onChanged(msg.Collection, msg.Fields)
			}
		}
	}
}

// call invokes a DDP method and waits for its result.
func (c *ddpClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("rocketchat: encode %s param: %w", method, err)
		}
		raw = append(raw, data)
	}

	id := uuid.NewString()
	result := make(chan ddpMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = result
	c.pendingMu.Unlock()

	if err := c.write(ddpMessage{Msg: "method", ID: id, Method: method, Params: raw}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("rocketchat: call %s: %w", method, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case msg := <-result:
		if msg.Error != nil {
			return nil, fmt.Errorf("rocketchat: %s failed: %s", method, msg.Error)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("rocketchat: %s timed out", method)
	case <-c.done():
		return nil, fmt.Errorf("rocketchat: connection closed during %s", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscribe starts a DDP subscription. Rocket.Chat streams arrive as
// "changed" events, handled by the onChanged callback.
func (c *ddpClient) subscribe(name string, params ...any) error {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("rocketchat: encode %s param: %w", name, err)
		}
		raw = append(raw, data)
	}
	if err := c.write(ddpMessage{Msg: "sub", ID: uuid.NewString(), Name: name, Params: raw}); err != nil {
		return fmt.Errorf("rocketchat: subscribe %s: %w", name, err)
	}
	return nil
}
