package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/mocks"
	model "github.com/zhouzirui/pairchat/backend/internal/model/chat"
	chat "github.com/zhouzirui/pairchat/backend/internal/service/chat"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type brokenStore struct{}

func (brokenStore) Append(context.Context, model.Draft) (model.Message, error) {
	return model.Message{}, errors.New("disk on fire")
}

func (brokenStore) ListConversation(context.Context, model.Pair) ([]model.Message, error) {
	return nil, errors.New("disk on fire")
}

type fixture struct {
	svc     *chat.Service
	store   *model.MemoryStore
	host    *mocks.MockHost
	emitter *mocks.MockEmitter
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	store := model.NewMemoryStore()
	host := mocks.NewMockHost(ctrl)
	emitter := mocks.NewMockEmitter(ctrl)
	svc := chat.NewService(store, attachment.NewResolver(host, nil), attachment.NewNormalizer("http://assets"), emitter)
	return fixture{svc: svc, store: store, host: host, emitter: emitter}
}

func TestSendTextEmitsToPartner(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	var emitted model.Message
	f.emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, m model.Message) error {
			emitted = m
			return nil
		})

	msg, err := f.svc.Send(ctx, chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.Equal("hi", msg.Text)
	req.Nil(msg.Image)
	req.Equal("alice", msg.SenderID)
	req.Equal("bob", msg.ReceiverID)
	req.Equal(msg, emitted)
}

func TestSendImageOnly(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.host.EXPECT().Upload(gomock.Any(), gomock.Any(), "image/png", pngBytes).Return("https://cdn/x.png", nil)
	f.emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).Return(nil)

	msg, err := f.svc.Send(context.Background(), chat.SendRequest{
		SelfID:    "alice",
		PartnerID: "bob",
		Image:     attachment.FromBytes(pngBytes, "x.png"),
	})
	req.NoError(err)
	req.Equal("", msg.Text)
	req.Equal("https://cdn/x.png", *msg.Image)

	history, err := f.svc.ListConversation(context.Background(), "bob", "alice")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("https://cdn/x.png", *history[0].Image)
}

func TestSendRelativeImageIsNormalizedOnEveryPath(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.host.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("uploads/chat_images/alice/x.png", nil)

	var emitted model.Message
	f.emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, m model.Message) error {
			emitted = m
			return nil
		})

	msg, err := f.svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Image: attachment.FromBytes(pngBytes, "")})
	req.NoError(err)

	want := "http://assets/uploads/chat_images/alice/x.png"
	req.Equal(want, *msg.Image)
	req.Equal(want, *emitted.Image)

	history, err := f.svc.ListConversation(context.Background(), "alice", "bob")
	req.NoError(err)
	req.Equal(want, *history[0].Image)
}

func TestSendEmptyMessageLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"", "   "} {
		_, err := f.svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: text})
		require.ErrorIs(t, err, chat.ErrEmptyMessage)
	}
	require.Equal(t, 0, f.store.Len())
}

func TestSendInvalidIdentifier(t *testing.T) {
	f := newFixture(t)

	for _, partner := range []string{"", "bob smith", "../etc", "a:b"} {
		_, err := f.svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: partner, Text: "hi"})
		require.ErrorIs(t, err, chat.ErrInvalidIdentifier, partner)
	}
	require.Equal(t, 0, f.store.Len())
}

func TestSendAttachmentFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.host.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("cdn down"))

	_, err := f.svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "look", Image: attachment.FromBytes(pngBytes, "")})
	require.ErrorIs(t, err, attachment.ErrAttachmentUploadFailed)
	require.Equal(t, 0, f.store.Len())
}

func TestSendStoreFailureDoesNotEmit(t *testing.T) {
	ctrl := gomock.NewController(t)
	emitter := mocks.NewMockEmitter(ctrl)
	svc := chat.NewService(brokenStore{}, attachment.NewResolver(nil, nil), attachment.NewNormalizer(""), emitter)

	_, err := svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	require.ErrorIs(t, err, chat.ErrStoreUnavailable)
}

func TestSendChannelFailureKeepsMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).Return(errors.New("relay down"))

	msg, err := f.svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	req.NoError(err)

	history, err := f.svc.ListConversation(context.Background(), "bob", "alice")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg.ID, history[0].ID)
}

func TestSendPublishesExportEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	emitter := mocks.NewMockEmitter(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)
	svc := chat.NewService(model.NewMemoryStore(), attachment.NewResolver(nil, nil), attachment.NewNormalizer(""), emitter, chat.WithPublisher(publisher))

	emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).Return(nil)
	publisher.EXPECT().PublishMessageCreated(gomock.Any(), gomock.Any()).Return(errors.New("kafka down"))

	_, err := svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	require.NoError(t, err)
}

func TestListConversationIsSymmetricAndOrdered(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.emitter.EXPECT().Emit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	ctx := context.Background()
	for _, r := range []chat.SendRequest{
		{SelfID: "alice", PartnerID: "bob", Text: "1"},
		{SelfID: "bob", PartnerID: "alice", Text: "2"},
		{SelfID: "alice", PartnerID: "bob", Text: "3"},
	} {
		_, err := f.svc.Send(ctx, r)
		req.NoError(err)
	}

	ab, err := f.svc.ListConversation(ctx, "alice", "bob")
	req.NoError(err)
	ba, err := f.svc.ListConversation(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(ab, ba)
	req.Len(ab, 3)
	for i := 1; i < len(ab); i++ {
		req.False(ab[i].CreatedAt.Before(ab[i-1].CreatedAt))
	}
}

func TestListConversationErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListConversation(context.Background(), "alice", "not valid!")
	require.ErrorIs(t, err, chat.ErrInvalidIdentifier)

	svc := chat.NewService(brokenStore{}, attachment.NewResolver(nil, nil), attachment.NewNormalizer(""), nil)
	_, err = svc.ListConversation(context.Background(), "alice", "bob")
	require.ErrorIs(t, err, chat.ErrStoreUnavailable)
}

func TestSendResolvesAttachmentForSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockAttachmentResolver(ctrl)
	emitter := mocks.NewMockEmitter(ctrl)
	store := model.NewMemoryStore()
	svc := chat.NewService(store, resolver, attachment.NewNormalizer(""), emitter)

	payload := &attachment.Payload{URL: "https://cdn/x.png"}
	ref := "https://cdn/x.png"
	gomock.InOrder(
		resolver.EXPECT().Resolve(gomock.Any(), "alice", payload).Return(&ref, nil),
		emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).Return(nil),
	)

	msg, err := svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Image: payload})
	require.NoError(t, err)
	require.Equal(t, ref, *msg.Image)
	require.Equal(t, 1, store.Len())
}

func TestSendChannelFailureIsLoggedAsWarning(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	emitter := mocks.NewMockEmitter(ctrl)
	core, logs := observer.New(zap.WarnLevel)
	svc := chat.NewService(model.NewMemoryStore(), attachment.NewResolver(nil, nil), attachment.NewNormalizer(""), emitter, chat.WithLogger(zap.New(core)))

	emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).
		Return(fmt.Errorf("%w: relay subscription down", live.ErrChannelUnavailable))

	_, err := svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	req.NoError(err)

	entries := logs.FilterMessage("live delivery failed").All()
	req.Len(entries, 1)
	logged, ok := entries[0].ContextMap()["error"].(string)
	req.True(ok)
	req.Contains(logged, chat.ErrChannelUnavailable.Error())
	req.ErrorIs(chat.ErrChannelUnavailable, live.ErrChannelUnavailable)
}

type stalledPublisher struct{}

func (stalledPublisher) PublishMessageCreated(ctx context.Context, _ model.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSendDoesNotWaitOnStalledExport(t *testing.T) {
	ctrl := gomock.NewController(t)
	emitter := mocks.NewMockEmitter(ctrl)
	emitter.EXPECT().Emit(gomock.Any(), "bob", gomock.Any()).Return(nil)
	svc := chat.NewService(model.NewMemoryStore(), attachment.NewResolver(nil, nil), attachment.NewNormalizer(""), emitter,
		chat.WithPublisher(stalledPublisher{}),
		chat.WithExportTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := svc.Send(context.Background(), chat.SendRequest{SelfID: "alice", PartnerID: "bob", Text: "hi"})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}
