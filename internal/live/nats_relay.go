package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const flushTimeout = 5 * time.Second

// NatsRelay carries deliveries over a core NATS subject.
type NatsRelay struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

// ConnectNats dials url.
func ConnectNats(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("pairchat-live"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNatsRelay publishes and subscribes on subject.
func NewNatsRelay(nc *nats.Conn, subject string, log *zap.Logger) *NatsRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &NatsRelay{nc: nc, subject: subject, log: log}
}

// Publish sends d to every subscribed instance.
func (r *NatsRelay) Publish(_ context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.nc.Publish(r.subject, payload)
}

// Subscribe routes subject messages to handle until ctx ends or the
// connection is closed.
func (r *NatsRelay) Subscribe(ctx context.Context, handle func(Delivery), ready func()) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		var d Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			r.log.Warn("discarding malformed relay payload", zap.Error(err))
			return
		}
		handle(d)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	defer sub.Unsubscribe()

	// Make sure the server has registered the interest before reporting ready.
	if err := r.nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flush subscription %s: %w", r.subject, err)
	}
	ready()

	closed := make(chan struct{})
	r.nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if r.nc.IsClosed() {
		return nats.ErrConnectionClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return nats.ErrConnectionClosed
	}
}

// Close drains and closes the connection.
func (r *NatsRelay) Close() error {
	return r.nc.Drain()
}
