// Package conversation holds the client-side view of one open conversation:
// a history snapshot reconciled with live deliveries into a single ordered,
// duplicate-free message list.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var (
	// ErrNoConversation is returned when an operation needs a selected partner.
	ErrNoConversation = errors.New("no conversation selected")
	// ErrSuperseded is returned by a load whose result was discarded because
	// another open or a close happened while it was in flight.
	ErrSuperseded = errors.New("conversation load superseded")
)

// API is the request/response side of the chat backend.
type API interface {
	History(ctx context.Context, partnerID string) ([]chat.Message, error)
	Send(ctx context.Context, partnerID, text string, image *attachment.Payload) (chat.Message, error)
}

// Channel delivers newMessage events addressed to the local participant.
// Subscribe returns the handle that removes handler again.
type Channel interface {
	Subscribe(handler func(chat.Message)) (unsubscribe func())
}

// ViewModel is safe for concurrent use by the UI and the channel callback.
type ViewModel struct {
	selfID     string
	api        API
	channel    Channel
	normalizer attachment.Normalizer
	log        *zap.Logger

	mu          sync.Mutex
	partnerID   string
	messages    []chat.Message
	seen        map[string]struct{}
	gen         uint64
	unsubscribe func()
}

// New builds a view for selfID with no conversation open.
func New(selfID string, api API, channel Channel, normalizer attachment.Normalizer, log *zap.Logger) *ViewModel {
	if log == nil {
		log = zap.NewNop()
	}
	return &ViewModel{
		selfID:     selfID,
		api:        api,
		channel:    channel,
		normalizer: normalizer,
		log:        log,
		seen:       make(map[string]struct{}),
	}
}

// OpenConversation selects partnerID, replaces the live listener and loads
// the history. Switching to another partner clears the list at once; the
// snapshot is applied only if no other open or close happened meanwhile.
// Live messages received during the load and missing from the snapshot are
// kept after it. On failure the list is left as it was.
func (vm *ViewModel) OpenConversation(ctx context.Context, partnerID string) error {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return ErrNoConversation
	}

	vm.mu.Lock()
	vm.teardownLocked()
	vm.gen++
	gen := vm.gen
	if vm.partnerID != partnerID {
		vm.messages = nil
		vm.seen = make(map[string]struct{})
	}
	vm.partnerID = partnerID
	vm.unsubscribe = vm.channel.Subscribe(func(m chat.Message) {
		vm.deliver(gen, m)
	})
	vm.mu.Unlock()

	history, err := vm.api.History(ctx, partnerID)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.gen != gen {
		vm.log.Debug("discarding stale history", zap.String("partnerId", partnerID))
		return ErrSuperseded
	}
	if err != nil {
		return err
	}
	vm.applySnapshotLocked(history)
	return nil
}

// CloseConversation removes the live listener and clears the selection.
func (vm *ViewModel) CloseConversation() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.teardownLocked()
	vm.gen++
	vm.partnerID = ""
	vm.messages = nil
	vm.seen = make(map[string]struct{})
}

// OnIncoming reconciles one live message. Only messages exchanged between
// self and the partner selected at call time are kept, once per ID. This is
// the pair {self, partner}, not merely "sender or receiver is the partner";
// the two agree for everything the server delivers, since it only pushes
// messages addressed to self.
func (vm *ViewModel) OnIncoming(msg chat.Message) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.appendLocked(msg)
}

// deliver drops callbacks from a listener that has been replaced.
func (vm *ViewModel) deliver(gen uint64, msg chat.Message) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.gen != gen {
		return
	}
	vm.appendLocked(msg)
}

// Send submits a message to the selected partner and appends the stored
// result. If the selection changed while the call was in flight the message
// is returned but not appended.
func (vm *ViewModel) Send(ctx context.Context, text string, image *attachment.Payload) (chat.Message, error) {
	vm.mu.Lock()
	partnerID := vm.partnerID
	vm.mu.Unlock()

	if partnerID == "" {
		return chat.Message{}, ErrNoConversation
	}

	msg, err := vm.api.Send(ctx, partnerID, text, image)
	if err != nil {
		return chat.Message{}, err
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.partnerID != partnerID {
		vm.log.Debug("sent message not shown, conversation switched", zap.String("messageId", msg.ID))
		return msg, nil
	}
	vm.appendLocked(msg)
	return msg, nil
}

// Messages returns a copy of the current list.
func (vm *ViewModel) Messages() []chat.Message {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]chat.Message, len(vm.messages))
	copy(out, vm.messages)
	return out
}

// PartnerID returns the selected partner, empty when none is open.
func (vm *ViewModel) PartnerID() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.partnerID
}

func (vm *ViewModel) teardownLocked() {
	if vm.unsubscribe != nil {
		vm.unsubscribe()
		vm.unsubscribe = nil
	}
}

func (vm *ViewModel) relevantLocked(msg chat.Message) bool {
	if vm.partnerID == "" {
		return false
	}
	return msg.Pair() == chat.NewPair(vm.selfID, vm.partnerID)
}

func (vm *ViewModel) appendLocked(msg chat.Message) {
	if !vm.relevantLocked(msg) {
		return
	}
	if _, dup := vm.seen[msg.ID]; dup {
		return
	}
	vm.seen[msg.ID] = struct{}{}
	vm.messages = append(vm.messages, vm.normalizer.NormalizeMessage(msg))
}

func (vm *ViewModel) applySnapshotLocked(history []chat.Message) {
	merged := make([]chat.Message, 0, len(history)+len(vm.messages))
	seen := make(map[string]struct{}, len(history)+len(vm.messages))

	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, vm.normalizer.NormalizeMessage(m))
	}
	for _, m := range vm.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	vm.messages = merged
	vm.seen = seen
}
