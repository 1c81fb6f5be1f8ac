package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"
	"trusted-delivery/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

const (
	ActionWatchRequest = "watch_request"
	ActionWatchFeed    = "watch_feed"
	ActionWatchFriends = "watch_friends"
	ActionUnwatch      = "unwatch"
)

const (
	StreamFeed    = "carrier_feed"
	StreamFriends = "friendships"
)

// RequestStreamName is the stream name of a single-request watch.
func RequestStreamName(id string) string {
	return "req_" + id
}

// Message is a client command.
type Message struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// Frame is a server push: a full snapshot of one stream, or an error for it.
type Frame struct {
	Stream string      `json:"stream"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Client is one websocket connection and the streams it watches.
type Client struct {
	conn      *websocket.Conn
	principal models.Principal
	streams   Streams
	subs      *notifier.Registry
	send      chan Frame

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(parent context.Context, conn *websocket.Conn, p models.Principal, streams Streams) *Client {
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		conn:      conn,
		principal: p,
		streams:   streams,
		subs:      notifier.NewRegistry(),
		send:      make(chan Frame, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// deliver queues f for the writer. It blocks until there is room or the client closes.
func (c *Client) deliver(f Frame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		c.subs.StopAll()
		c.conn.Close()
	})
}

// ReadPump handles commands coming FROM the client until it disconnects.
func (c *Client) ReadPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "principal_id", c.principal.ID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.deliver(Frame{Error: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Action {
	case ActionWatchRequest:
		if msg.ID == "" {
			c.deliver(Frame{Stream: RequestStreamName(""), Error: "id is required"})
			return
		}
		name := RequestStreamName(msg.ID)
		c.subscribe(name, func() (*notifier.Subscription, error) {
			return c.streams.WatchRequest(c.ctx, c.principal, msg.ID, func(r *models.DeliveryRequest) {
				c.deliver(Frame{Stream: name, Data: r})
			}, func(err error) {
				c.deliver(Frame{Stream: name, Error: publicError(err)})
			})
		})
	case ActionWatchFeed:
		c.subscribe(StreamFeed, func() (*notifier.Subscription, error) {
			return c.streams.WatchFeed(c.ctx, c.principal, func(reqs []*models.DeliveryRequest) {
				c.deliver(Frame{Stream: StreamFeed, Data: reqs})
			})
		})
	case ActionWatchFriends:
		c.subscribe(StreamFriends, func() (*notifier.Subscription, error) {
			return c.streams.WatchFriends(c.ctx, c.principal, func(views []*models.FriendView) {
				c.deliver(Frame{Stream: StreamFriends, Data: views})
			})
		})
	case ActionUnwatch:
		c.subs.Stop(msg.Stream)
	default:
		c.deliver(Frame{Stream: msg.Stream, Error: "unknown action " + msg.Action})
	}
}

// subscribe replaces the named stream. The old subscription is stopped before
// the new one sends its first snapshot so frames never go backwards.
func (c *Client) subscribe(name string, watch func() (*notifier.Subscription, error)) {
	c.subs.Stop(name)
	sub, err := watch()
	if err != nil {
		c.deliver(Frame{Stream: name, Error: publicError(err)})
		return
	}
	c.subs.Set(name, sub)
}

// WritePump handles messages going TO the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				logger.Debug("websocket write failed", "principal_id", c.principal.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
