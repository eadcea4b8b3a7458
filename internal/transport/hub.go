// Package transport implements the pub/sub transport the broadcaster
// publishes into: a channel and subscription Hub shared by a Foxglove
// WebSocket front-end and a gRPC front-end.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/slamviz/internal/foxglove"
	"github.com/banshee-data/slamviz/internal/monitoring"
)

var (
	// ErrUnknownChannel is returned for a channel id the hub never created.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrDuplicateTopic is returned when a topic is created twice.
	ErrDuplicateTopic = errors.New("topic already exists")
	// ErrClosed is returned by every operation after the hub is closed.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownClient is returned for a client that is not registered.
	ErrUnknownClient = errors.New("unknown client")
	// ErrTooManyClients is returned when MaxClients is reached.
	ErrTooManyClients = errors.New("too many clients")
	// ErrDuplicateSubscription is returned when a client reuses a subscription id.
	ErrDuplicateSubscription = errors.New("subscription id already in use")
)

// DefaultSendBuffer is the per-client event queue length.
const DefaultSendBuffer = 64

// ChannelID identifies a channel for the lifetime of a hub. Ids start at 1.
type ChannelID uint32

// Channel is a topic with a fixed message schema.
type Channel struct {
	ID     ChannelID
	Topic  string
	Schema foxglove.Schema
}

// EventKind distinguishes the events queued for a client.
type EventKind int

const (
	// EventData carries a published message for one of the client's subscriptions.
	EventData EventKind = iota
	// EventAdvertise announces a channel created after the client registered.
	EventAdvertise
	// EventStatus carries a diagnostic for the client.
	EventStatus
)

// Event is one item in a client's outbound queue.
type Event struct {
	Kind           EventKind
	Channel        Channel
	SubscriptionID uint32
	LogTime        uint64
	Payload        []byte

	// StatusLevel and StatusMessage are set for EventStatus.
	StatusLevel   StatusLevel
	StatusMessage string
}

// Client is a registered consumer. Its events are drained by the front-end
// that registered it.
type Client struct {
	ID       uuid.UUID
	Frontend string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Events is the client's outbound queue.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Dropped is the number of events discarded because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// offer queues ev without blocking. It reports false when the event was dropped.
func (c *Client) offer(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.dropped.Add(1)
		monitoring.TransportDroppedTotal.Inc()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

type clientState struct {
	client *Client
	subs   map[uint32]ChannelID
}

// HubOptions configures a Hub.
type HubOptions struct {
	// SendBuffer is the per-client queue length. Defaults to DefaultSendBuffer.
	SendBuffer int
	// MaxClients caps registered clients; 0 means unlimited.
	MaxClients int
	Logger     *slog.Logger
}

// Hub owns the channel registry, the registered clients and their
// subscriptions. Publish never blocks: a client whose queue is full misses
// the message.
type Hub struct {
	opts HubOptions
	log  *slog.Logger

	mu          sync.RWMutex
	channels    map[ChannelID]Channel
	topics      map[string]ChannelID
	nextChannel ChannelID
	clients     map[uuid.UUID]*clientState
	closed      bool
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Component("transport")
	}
	return &Hub{
		opts:     opts,
		log:      opts.Logger,
		channels: make(map[ChannelID]Channel),
		topics:   make(map[string]ChannelID),
		clients:  make(map[uuid.UUID]*clientState),
	}
}

// AddChannel creates a channel and advertises it to every registered client.
func (h *Hub) AddChannel(topic string, schema foxglove.Schema) (Channel, error) {
	if topic == "" {
		return Channel{}, errors.New("empty topic")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Channel{}, ErrClosed
	}
	if _, exists := h.topics[topic]; exists {
		return Channel{}, fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
	}

	h.nextChannel++
	ch := Channel{ID: h.nextChannel, Topic: topic, Schema: schema}
	h.channels[ch.ID] = ch
	h.topics[topic] = ch.ID

	for _, cs := range h.clients {
		cs.client.offer(Event{Kind: EventAdvertise, Channel: ch})
	}

	h.log.Info("channel created", "topic", topic, "channel_id", ch.ID, "schema", schema.Name)
	return ch, nil
}

// Channels returns every channel ordered by id.
func (h *Hub) Channels() []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelsLocked()
}

func (h *Hub) channelsLocked() []Channel {
	out := make([]Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channel looks up a channel by id.
func (h *Hub) Channel(id ChannelID) (Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[id]
	return ch, ok
}

// ChannelByTopic looks up a channel by topic.
func (h *Hub) ChannelByTopic(topic string) (Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.topics[topic]
	if !ok {
		return Channel{}, false
	}
	return h.channels[id], true
}

// Register adds a client and returns it together with the channels that
// existed at registration. Channels created later arrive as EventAdvertise.
func (h *Hub) Register(frontend string) (*Client, []Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrClosed
	}
	if h.opts.MaxClients > 0 && len(h.clients) >= h.opts.MaxClients {
		return nil, nil, fmt.Errorf("%w: limit %d", ErrTooManyClients, h.opts.MaxClients)
	}

	c := &Client{
		ID:       uuid.New(),
		Frontend: frontend,
		events:   make(chan Event, h.opts.SendBuffer),
		done:     make(chan struct{}),
	}
	h.clients[c.ID] = &clientState{client: c, subs: make(map[uint32]ChannelID)}
	monitoring.TransportClients.WithLabelValues(frontend).Inc()

	h.log.Info("client registered", "client_id", c.ID, "frontend", frontend, "clients", len(h.clients))
	return c, h.channelsLocked(), nil
}

// Unregister removes a client and closes its Done channel. Unregistering an
// unknown client is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	remaining := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	monitoring.TransportClients.WithLabelValues(c.Frontend).Dec()
	h.log.Info("client unregistered", "client_id", c.ID, "frontend", c.Frontend,
		"clients", remaining, "dropped", c.Dropped())
}

// Subscribe routes messages of channel id to c under subID.
func (h *Hub) Subscribe(c *Client, subID uint32, id ChannelID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.clients[c.ID]
	if !ok {
		return ErrUnknownClient
	}
	if _, ok := h.channels[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if _, dup := cs.subs[subID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateSubscription, subID)
	}
	cs.subs[subID] = id
	return nil
}

// Unsubscribe removes a subscription. Unknown subscription ids are ignored.
func (h *Hub) Unsubscribe(c *Client, subID uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.clients[c.ID]
	if !ok {
		return ErrUnknownClient
	}
	delete(cs.subs, subID)
	return nil
}

// Notify queues a status event for c.
func (h *Hub) Notify(c *Client, level StatusLevel, msg string) {
	c.offer(Event{Kind: EventStatus, StatusLevel: level, StatusMessage: msg})
}

// Publish fans payload out to every subscription of channel id and returns
// how many events were queued. Full client queues drop the event. The payload
// is shared by every recipient and must not be modified afterwards.
func (h *Hub) Publish(id ChannelID, logTime uint64, payload []byte) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0, ErrClosed
	}
	ch, ok := h.channels[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}

	delivered := 0
	for _, cs := range h.clients {
		for subID, chID := range cs.subs {
			if chID != id {
				continue
			}
			if cs.client.offer(Event{
				Kind:           EventData,
				Channel:        ch,
				SubscriptionID: subID,
				LogTime:        logTime,
				Payload:        payload,
			}) {
				delivered++
			}
		}
	}
	return delivered, nil
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client. Later calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, cs := range h.clients {
		clients = append(clients, cs.client)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
