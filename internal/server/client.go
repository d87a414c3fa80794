package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/npezzotti/go-pollchat/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	username   string
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	// owned by the hub goroutine
	lastTyping []string
}

func NewClient(username string, conn *websocket.Conn, cs *ChatServer, logger zerolog.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        logger.With().Str("username", username).Logger(),
		username:   username,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.handle(ctx, &msg)
		cancel()
	}
}

func (c *Client) handle(ctx context.Context, msg *ClientMessage) {
	switch {
	case msg.Publish != nil:
		posted, err := c.chatServer.feed.PostMessage(ctx, c.username, msg.Publish.Message)
		if err != nil {
			c.queueMessage(errorMessage(msg.Id, err))
			return
		}
		c.queueMessage(NoErrAccepted(msg.Id, types.NewMessage(posted)))
	case msg.Typing != nil:
		if err := c.chatServer.presence.Heartbeat(ctx, c.username, msg.Typing.Active); err != nil {
			c.queueMessage(errorMessage(msg.Id, err))
			return
		}
		c.queueMessage(NoErrAccepted(msg.Id, nil))
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func errorMessage(id int, err error) *ServerMessage {
	switch {
	case chaterr.IsValidation(err):
		return ErrBadRequest(id, err.Error())
	case errors.Is(err, chaterr.ErrStoreUnavailable):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup clears the typing state of a client that went away without
// sending a final stop.
func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.chatServer.presence.Heartbeat(ctx, c.username, false); err != nil {
		c.log.Warn().Err(err).Msg("clear typing state")
	}

	c.chatServer.deRegisterClient(c)
	c.stopClient()
}
