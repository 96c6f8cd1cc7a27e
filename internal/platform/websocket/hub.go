// Package websocket fans realtime events out to subscribers. Remote clients
// connect over a WebSocket and subscribe to topics; in-process consumers
// (such as the alert subscription stream) attach with Listen. A Relay, when
// configured, carries events between server instances.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event represents a real-time notification sent to subscribers.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event stamped with the current time.
func NewEvent(eventType, topic, resourceType, resourceID string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:         eventType,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
		Data:         raw,
	}, nil
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher defines the interface for publishing events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Relay forwards locally published events to other instances and delivers
// theirs back through the deliver callback passed to Start.
type Relay interface {
	Start(ctx context.Context, deliver func(Event)) error
	Forward(ctx context.Context, event Event) error
	Close() error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID        string
	Principal Principal
	Topics    []string
	Send      chan []byte
	hub       *Hub
	conn      Conn
}

type listener struct {
	ch     chan Event
	topics []string
}

// Hub is the central connection manager that tracks clients and their topic
// subscriptions. All operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{} // topic -> set of clients
	all       map[*Client]struct{}
	listeners map[string]map[*listener]struct{} // topic -> in-process listeners

	authorize Authorizer
	relay     Relay
	logger    zerolog.Logger
	dropped   atomic.Int64

	// OnClientCount, when set, is called with the new total after every
	// register and unregister.
	OnClientCount func(n int)
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
		listeners: make(map[string]map[*listener]struct{}),
		authorize: AllowAll,
		logger:    zerolog.Nop(),
	}
}

// WithAuthorizer sets the topic authorization policy.
func (h *Hub) WithAuthorizer(a Authorizer) *Hub {
	h.authorize = a
	return h
}

func (h *Hub) WithLogger(logger zerolog.Logger) *Hub {
	h.logger = logger
	return h
}

// WithRelay makes Publish forward events to other instances. Call StartRelay
// to begin receiving theirs.
func (h *Hub) WithRelay(r Relay) *Hub {
	h.relay = r
	return h
}

// StartRelay subscribes to remote events; they are delivered locally only.
func (h *Hub) StartRelay(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Start(ctx, func(e Event) { h.Broadcast(e.Topic, e) })
}

// Register adds a client to the hub and subscribes it to the initial topics
// it is allowed to see.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.all[client] = struct{}{}
	allowed := client.Topics[:0]
	for _, topic := range client.Topics {
		if !h.authorize(client.Principal, topic) {
			continue
		}
		allowed = append(allowed, topic)
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
	client.Topics = allowed
	n := len(h.all)
	h.mu.Unlock()

	h.reportCount(n)
}

// Unregister removes a client from the hub, all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}

	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
	n := len(h.all)
	h.mu.Unlock()

	h.reportCount(n)
}

func (h *Hub) reportCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// Subscribe adds topics to a registered client and returns the ones the
// client is not allowed to see; those are not subscribed.
func (h *Hub) Subscribe(client *Client, topics []string) (rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if !h.authorize(client.Principal, topic) {
			rejected = append(rejected, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, already := h.clients[topic][client]; already {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
	return rejected
}

// Unsubscribe dynamically removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
	}

	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage and returns the reply to
// send back, if any.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) *Event {
	switch msg.Action {
	case "subscribe":
		rejected := h.Subscribe(client, msg.Topics)
		ack, _ := NewEvent("subscribed", "", "", "", map[string][]string{
			"topics":   client.snapshotTopics(h),
			"rejected": rejected,
		})
		return &ack
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
		ack, _ := NewEvent("unsubscribed", "", "", "", map[string][]string{"topics": msg.Topics})
		return &ack
	case "ping":
		pong, _ := NewEvent("pong", "", "", "", nil)
		return &pong
	}
	return nil
}

func (c *Client) snapshotTopics(h *Hub) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), c.Topics...)
}

// Listen attaches an in-process consumer to topics. Events are dropped, not
// queued, when the consumer falls more than buffer events behind. The channel
// is closed when ctx ends.
func (h *Hub) Listen(ctx context.Context, buffer int, topics ...string) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	l := &listener{ch: make(chan Event, buffer), topics: topics}

	h.mu.Lock()
	for _, topic := range topics {
		if h.listeners[topic] == nil {
			h.listeners[topic] = make(map[*listener]struct{})
		}
		h.listeners[topic][l] = struct{}{}
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		for _, topic := range l.topics {
			if set, ok := h.listeners[topic]; ok {
				delete(set, l)
				if len(set) == 0 {
					delete(h.listeners, topic)
				}
			}
		}
		close(l.ch)
		h.mu.Unlock()
	}()

	return l.ch
}

// Broadcast sends an event to all local clients and listeners subscribed to
// topic. A full buffer drops the event for that subscriber.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("websocket: failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.dropped.Add(1)
		}
	}
	for l := range h.listeners[topic] {
		select {
		case l.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// BroadcastAll sends an event to every connected client regardless of topic.
func (h *Hub) BroadcastAll(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket: failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.all {
		select {
		case client.Send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Publish delivers the event locally and, with a relay, to other instances.
// Local delivery always happens; the returned error only reports relay
// failures.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	if h.relay != nil {
		if err := h.relay.Forward(ctx, event); err != nil {
			h.logger.Warn().Err(err).Str("topic", event.Topic).Msg("websocket: relay forward failed")
			return err
		}
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients and listeners on topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic]) + len(h.listeners[topic])
}

// HasSubscribers reports whether anyone on this instance would receive an
// event on topic.
func (h *Hub) HasSubscribers(topic string) bool {
	return h.TopicCount(topic) > 0
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops the relay, if any.
func (h *Hub) Close() error {
	if h.relay != nil {
		return h.relay.Close()
	}
	return nil
}
