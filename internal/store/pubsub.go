package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// subscriptionBuffer bounds how many undelivered messages a slow subscriber may hold.
const subscriptionBuffer = 100

// Message is one payload received on a channel
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages until closed or until its context ends.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

func isPattern(channel string) bool {
	return strings.HasSuffix(channel, "*")
}

func matches(pattern, channel string) bool {
	if isPattern(pattern) {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}

// memorySubscription is the in-process Subscription served by Hub
type memorySubscription struct {
	channels []string
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newMemorySubscription(channels []string) *memorySubscription {
	return &memorySubscription{
		channels: channels,
		msgChan:  make(chan *Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

func (m *memorySubscription) Channel() <-chan *Message {
	return m.msgChan
}

func (m *memorySubscription) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

func (m *memorySubscription) wants(channel string) bool {
	for _, p := range m.channels {
		if matches(p, channel) {
			return true
		}
	}
	return false
}

// send delivers msg without blocking the publisher
func (m *memorySubscription) send(msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || !m.wants(msg.Channel) {
		return
	}

	select {
	case m.msgChan <- msg:
	default:
		// Channel is full, drop message to prevent blocking
	}
}

// Hub fans published messages out to in-process subscribers
type Hub struct {
	subscribers map[*memorySubscription]struct{}
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

// Subscribe registers a subscription that is removed when ctx ends or it is closed
func (h *Hub) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := newMemorySubscription(channels)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
	}()

	return sub
}

// Publish sends payload to every subscriber whose channels match
func (h *Hub) Publish(channel, payload string) {
	h.mu.RLock()
	subscribers := make([]*memorySubscription, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subscribers = append(subscribers, sub)
	}
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subscribers {
		sub.send(msg)
	}
}

// Subscribers reports the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// redisSubscription adapts redis.PubSub to Subscription
type redisSubscription struct {
	pubsub  *redis.PubSub
	msgChan chan *Message
	done    chan struct{}
	once    sync.Once
}

func newRedisSubscription(ctx context.Context, client *redis.Client, channels []string) (*redisSubscription, error) {
	var exact, patterns []string
	for _, ch := range channels {
		if isPattern(ch) {
			patterns = append(patterns, ch)
		} else {
			exact = append(exact, ch)
		}
	}

	pubsub := client.Subscribe(ctx, exact...)
	if len(patterns) > 0 {
		// go-redis re-sends the patterns when it reconnects
		if err := pubsub.PSubscribe(ctx, patterns...); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("psubscribe %s: %w", strings.Join(patterns, ","), err)
		}
	}

	s := &redisSubscription{
		pubsub:  pubsub,
		msgChan: make(chan *Message, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	go s.forward(ctx)
	return s, nil
}

// closedSubscription is handed out when a subscription cannot be established,
// so readers see the channel end instead of waiting forever.
func closedSubscription(channels []string) Subscription {
	sub := newMemorySubscription(channels)
	_ = sub.Close()
	return sub
}

func (s *redisSubscription) forward(ctx context.Context) {
	defer close(s.msgChan)
	in := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.msgChan <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
			default:
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
