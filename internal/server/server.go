// Package server pushes feed snapshots and typing lists to websocket
// clients. It sits on the same feed and presence contracts as the polling
// API, so a websocket client sees exactly what a poller would.
package server

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-pollchat/internal/feed"
	"github.com/npezzotti/go-pollchat/internal/presence"
	"github.com/npezzotti/go-pollchat/internal/stats"
	"github.com/npezzotti/go-pollchat/internal/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	metricClients = "ws_clients"

	DefaultTypingInterval = time.Second
	opTimeout             = 5 * time.Second
)

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            zerolog.Logger
	feed           *feed.Service
	presence       presence.Tracker
	stats          stats.StatsProvider
	typingInterval time.Duration

	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger zerolog.Logger, fs *feed.Service, tr presence.Tracker, sp stats.StatsProvider) (*ChatServer, error) {
	if fs == nil || tr == nil {
		return nil, errors.New("feed service and presence tracker are required")
	}

	sp.RegisterMetric(metricClients)

	return &ChatServer{
		log:            logger.With().Str("component", "ws").Logger(),
		feed:           fs,
		presence:       tr,
		stats:          sp,
		typingInterval: DefaultTypingInterval,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	changes, unsubscribe := cs.feed.Watch()
	defer unsubscribe()

	ticker := time.NewTicker(cs.typingInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Debug().Str("username", client.username).Msg("adding connection")
			cs.addClient(client)
			cs.sendSnapshot(client)
		case client := <-cs.deRegisterChan:
			cs.log.Debug().Str("username", client.username).Msg("removing connection")
			cs.removeClient(client)
		case <-changes:
			cs.broadcastSnapshot()
		case <-ticker.C:
			cs.broadcastTyping()
		case req := <-cs.stop:
			cs.log.Info().Msg("disconnecting websocket clients")
			cs.stopAllClients()
			close(req.done)
			return
		}
	}
}

// RegisterClient hands a connected client to the hub. It returns false once
// the hub has stopped.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(metricClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(metricClients)
	}
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	return lo.Keys(cs.clients)
}

func (cs *ChatServer) stopAllClients() {
	for _, c := range cs.getClients() {
		c.stopClient()
		cs.removeClient(c)
	}
}

func (cs *ChatServer) snapshot() (*ServerMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgs, err := cs.feed.ListRecent(ctx)
	if err != nil {
		return nil, err
	}

	return SnapshotMessage(types.NewMessages(msgs)), nil
}

func (cs *ChatServer) sendSnapshot(c *Client) {
	msg, err := cs.snapshot()
	if err != nil {
		cs.log.Warn().Err(err).Msg("initial snapshot")
		c.queueMessage(ErrServiceUnavailable(0))
		return
	}

	c.queueMessage(msg)
}

// broadcastSnapshot sends the current window to every client. On failure
// clients keep the snapshot they already have.
func (cs *ChatServer) broadcastSnapshot() {
	clients := cs.getClients()
	if len(clients) == 0 {
		return
	}

	msg, err := cs.snapshot()
	if err != nil {
		cs.log.Warn().Err(err).Msg("broadcast snapshot")
		return
	}

	for _, c := range clients {
		c.queueMessage(msg)
	}
}

// broadcastTyping sends each client the typers other than itself, skipping
// clients whose list has not changed.
func (cs *ChatServer) broadcastTyping() {
	clients := cs.getClients()
	if len(clients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	active, err := cs.presence.ListActive(ctx, "")
	if err != nil {
		cs.log.Warn().Err(err).Msg("list typing users")
		return
	}

	for _, c := range clients {
		users := lo.Without(active, c.username)
		if slices.Equal(users, c.lastTyping) {
			continue
		}

		if c.queueMessage(TypingMessage(users)) {
			c.lastTyping = users
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
