// Package notify fans board change notifications out to stream subscribers.
//
// With Redis configured, events travel over pub/sub so every API instance
// relays writes made by any other instance. Without it, events stay in
// process. Subscribers only learn that something changed; they refetch.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const channelPrefix = "ideaboard:board:"

// Event describes one committed write.
type Event struct {
	Table   string    `json:"table"`
	Kind    string    `json:"event"`
	BoardID string    `json:"boardId"`
	CardID  string    `json:"cardId,omitempty"`
	At      time.Time `json:"at"`
}

const (
	TableCards    = "cards"
	TableColumns  = "columns"
	TableVotes    = "votes"
	TableComments = "comments"

	KindInsert = "INSERT"
	KindUpdate = "UPDATE"
	KindDelete = "DELETE"
)

// Hub publishes events and delivers them to local subscribers.
type Hub struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates a hub. A nil client keeps delivery in process.
func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client, subs: make(map[string]map[chan Event]struct{})}
}

// Channel returns the pub/sub channel carrying a board's events.
func Channel(boardID string) string {
	return channelPrefix + boardID
}

// Publish announces ev. With Redis the event reaches local subscribers through
// Run, like everybody else's.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if h.client == nil {
		h.deliver(ev)
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, Channel(ev.BoardID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers for a board's events. The returned function releases
// the subscription and must be called exactly once.
func (h *Hub) Subscribe(boardID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[boardID] == nil {
		h.subs[boardID] = make(map[chan Event]struct{})
	}
	h.subs[boardID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[boardID], ch)
		if len(h.subs[boardID]) == 0 {
			delete(h.subs, boardID)
		}
		h.mu.Unlock()
	}
}

// deliver never blocks. A subscriber with a full buffer already has a pending
// event that will trigger its refetch, so dropping is safe.
func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.BoardID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run relays Redis events to local subscribers until ctx is done,
// resubscribing when the pub/sub connection drops. It returns immediately when
// the hub has no Redis client.
func (h *Hub) Run(ctx context.Context) {
	if h.client == nil {
		return
	}
	for {
		sub := h.client.PSubscribe(ctx, channelPrefix+"*")
		h.relay(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("notify: pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) relay(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.WithError(err).WithField("channel", msg.Channel).Warn("notify: unable to parse event")
				continue
			}
			if ev.BoardID == "" {
				ev.BoardID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			h.deliver(ev)
		}
	}
}
