package live

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

const relayWait = 5 * time.Second

func sampleDelivery() Delivery {
	return Delivery{
		To: "bob",
		Message: chat.Message{
			ID:         "m1",
			SenderID:   "alice",
			ReceiverID: "bob",
			Text:       "hi",
			Image:      lo.ToPtr("http://assets/uploads/x.png"),
			CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

// startSubscriber runs relay.Subscribe in the background and waits until the
// subscription is confirmed. The returned channel yields Subscribe's result.
func startSubscriber(t *testing.T, ctx context.Context, relay Relay) (<-chan Delivery, <-chan error) {
	t.Helper()
	got := make(chan Delivery, 8)
	done := make(chan error, 1)
	ready := make(chan struct{})

	go func() {
		done <- relay.Subscribe(ctx, func(d Delivery) { got <- d }, func() { close(ready) })
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("subscribe returned before ready: %v", err)
	case <-time.After(relayWait):
		t.Fatal("subscription was not confirmed")
	}
	return got, done
}

// assertRelayRoundTrip publishes a malformed payload followed by a valid
// delivery and expects only the latter to reach the handler.
func assertRelayRoundTrip(t *testing.T, relay Relay, publishRaw func([]byte) error) {
	t.Helper()
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got, done := startSubscriber(t, ctx, relay)

	req.NoError(publishRaw([]byte("{not json")))
	want := sampleDelivery()
	req.NoError(relay.Publish(ctx, want))

	select {
	case d := <-got:
		req.Equal(want.To, d.To)
		req.Equal(want.Message.ID, d.Message.ID)
		req.Equal(want.Message.SenderID, d.Message.SenderID)
		req.Equal(want.Message.ReceiverID, d.Message.ReceiverID)
		req.Equal(want.Message.Text, d.Message.Text)
		req.Equal(*want.Message.Image, *d.Message.Image)
		req.True(want.Message.CreatedAt.Equal(d.Message.CreatedAt))
	case <-time.After(relayWait):
		t.Fatal("delivery was not relayed")
	}
	req.Empty(got)

	cancel()
	select {
	case err := <-done:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(relayWait):
		t.Fatal("subscribe did not stop after cancel")
	}
}
