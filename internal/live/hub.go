package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var (
	// ErrSinkFull is returned by a Sink that cannot accept more frames.
	ErrSinkFull = errors.New("sink buffer full")
	// ErrChannelUnavailable reports that a delivery could not go through the
	// relay or that this instance is not receiving from it.
	ErrChannelUnavailable = errors.New("live channel unavailable")
)

// Sink is one live connection of a participant.
type Sink interface {
	// Deliver queues env without blocking.
	Deliver(env Envelope) error
	// Close terminates the connection.
	Close()
}

// Relay fans deliveries out to every instance of the service.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe blocks, calling handle for every delivery, until ctx ends or
	// the subscription breaks. ready is called once the subscription is
	// confirmed.
	Subscribe(ctx context.Context, handle func(Delivery), ready func()) error
	Close() error
}

// Normalizer rewrites image references before they leave the process.
type Normalizer interface {
	NormalizeMessage(m chat.Message) chat.Message
}

type set map[Sink]struct{}

// Hub maps participant identifiers to their live connections.
type Hub struct {
	mu         sync.RWMutex
	sinks      map[string]set
	relay      Relay
	normalizer Normalizer
	log        *zap.Logger

	subscribed atomic.Bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithRelayBackoff bounds the delay between relay resubscription attempts.
func WithRelayBackoff(minDelay, maxDelay time.Duration) HubOption {
	return func(h *Hub) {
		h.minBackoff = minDelay
		h.maxBackoff = maxDelay
	}
}

// NewHub builds a Hub. relay may be nil for a single instance.
func NewHub(normalizer Normalizer, relay Relay, log *zap.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		sinks:      make(map[string]set),
		relay:      relay,
		normalizer: normalizer,
		log:        log,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxBackoff < h.minBackoff {
		h.maxBackoff = h.minBackoff
	}
	return h
}

// Register associates sink with userID and returns its unregister func.
func (h *Hub) Register(userID string, sink Sink) func() {
	h.mu.Lock()
	if _, ok := h.sinks[userID]; !ok {
		h.sinks[userID] = make(set)
	}
	h.sinks[userID][sink] = struct{}{}
	h.mu.Unlock()

	metrics.Connections.Inc()
	h.log.Debug("live connection registered", zap.String("userId", userID))

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(userID, sink)
		})
	}
}

func (h *Hub) remove(userID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sinks, ok := h.sinks[userID]
	if !ok {
		return
	}
	if _, ok := sinks[sink]; !ok {
		return
	}
	delete(sinks, sink)
	if len(sinks) == 0 {
		delete(h.sinks, userID)
	}
	metrics.Connections.Dec()
}

// Connected reports how many connections userID has on this instance.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks[userID])
}

// Emit delivers msg as newMessage to every connection of toID. With a relay
// the delivery goes through it so that other instances reach their own
// connections. While this instance is not subscribed to the relay, local
// connections are served directly and ErrChannelUnavailable is returned.
// Local absence of the recipient is not an error.
func (h *Hub) Emit(ctx context.Context, toID string, msg chat.Message) error {
	d := Delivery{To: toID, Message: msg}
	if h.relay == nil {
		h.deliverLocal(d)
		return nil
	}

	subscribed := h.subscribed.Load()
	if !subscribed {
		h.deliverLocal(d)
	}

	if err := h.relay.Publish(ctx, d); err != nil {
		metrics.LiveDeliveries.WithLabelValues("relay_error").Inc()
		return fmt.Errorf("%w: relay publish: %w", ErrChannelUnavailable, err)
	}
	if !subscribed {
		metrics.LiveDeliveries.WithLabelValues("relay_unsubscribed").Inc()
		return fmt.Errorf("%w: relay subscription down", ErrChannelUnavailable)
	}
	return nil
}

// Subscribed reports whether the relay subscription is currently up.
func (h *Hub) Subscribed() bool {
	return h.relay == nil || h.subscribed.Load()
}

// Run consumes the relay until ctx ends, resubscribing with exponential
// backoff whenever the subscription fails. Without a relay it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}

	delay := h.minBackoff
	for {
		err := h.relay.Subscribe(ctx, h.deliverLocal, func() {
			h.subscribed.Store(true)
			h.log.Info("live relay subscribed")
		})
		wasUp := h.subscribed.Swap(false)
		if ctx.Err() != nil {
			return nil
		}
		if wasUp {
			delay = h.minBackoff
		}

		h.log.Warn("live relay subscription lost, retrying",
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, h.maxBackoff)
	}
}

func (h *Hub) deliverLocal(d Delivery) {
	msg := d.Message
	if h.normalizer != nil {
		msg = h.normalizer.NormalizeMessage(msg)
	}
	env := NewMessageEnvelope(msg)

	h.mu.RLock()
	targets := make([]Sink, 0, len(h.sinks[d.To]))
	for sink := range h.sinks[d.To] {
		targets = append(targets, sink)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		metrics.LiveDeliveries.WithLabelValues("offline").Inc()
		return
	}

	for _, sink := range targets {
		if err := sink.Deliver(env); err != nil {
			// Slow or dead connection.
			metrics.LiveDeliveries.WithLabelValues("dropped").Inc()
			h.log.Warn("dropping live connection",
				zap.String("userId", d.To),
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
			h.remove(d.To, sink)
			sink.Close()
			continue
		}
		metrics.LiveDeliveries.WithLabelValues("ok").Inc()
	}
}
