//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../../mocks/mock_chat_service.go -package=mocks
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var (
	ErrInvalidIdentifier  = errors.New("invalid participant identifier")
	ErrEmptyMessage       = errors.New("message must have text or an image")
	ErrStoreUnavailable   = errors.New("message store unavailable")
	ErrChannelUnavailable = live.ErrChannelUnavailable
)

const defaultExportTimeout = 2 * time.Second

// identifierRule accepts Mongo ObjectIDs, UUIDs and plain handles.
const identifierRule = "required,max=64,alphanum|uuid"

// Emitter pushes a stored message to the live connections of toID.
type Emitter interface {
	Emit(ctx context.Context, toID string, msg chat.Message) error
}

// Publisher exports message.created events.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, msg chat.Message) error
}

// AttachmentResolver turns an optional payload into a durable reference.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ownerID string, payload *attachment.Payload) (*string, error)
}

// SendRequest is one message submission.
type SendRequest struct {
	SelfID    string
	PartnerID string
	Text      string
	Image     *attachment.Payload
}

// Service serves conversation history and message creation.
type Service struct {
	store      chat.Store
	resolver   AttachmentResolver
	normalizer attachment.Normalizer
	emitter    Emitter
	publisher  Publisher
	exportWait time.Duration
	validate   *validator.Validate
	log        *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher exports every created message through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithExportTimeout bounds how long Send waits for the export publish.
func WithExportTimeout(d time.Duration) Option {
	return func(s *Service) { s.exportWait = d }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService wires the chat service.
func NewService(store chat.Store, resolver AttachmentResolver, normalizer attachment.Normalizer, emitter Emitter, opts ...Option) *Service {
	s := &Service{
		store:      store,
		resolver:   resolver,
		normalizer: normalizer,
		emitter:    emitter,
		exportWait: defaultExportTimeout,
		validate:   validator.New(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateIdentifier checks the participant identifier format.
func (s *Service) ValidateIdentifier(id string) error {
	if err := s.validate.Var(id, identifierRule); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// ListConversation returns the conversation between selfID and partnerID,
// oldest first, with image references normalized.
func (s *Service) ListConversation(ctx context.Context, selfID, partnerID string) ([]chat.Message, error) {
	if err := s.validatePair(selfID, partnerID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListConversation(ctx, chat.NewPair(selfID, partnerID))
	if err != nil {
		s.log.Error("list conversation failed",
			zap.String("selfId", selfID),
			zap.String("partnerId", partnerID),
			zap.Error(err),
		)
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return s.normalizer.NormalizeMessages(messages), nil
}

// Send resolves the attachment, appends one message and emits it to the
// partner. A failed emission is logged and does not undo the append.
func (s *Service) Send(ctx context.Context, req SendRequest) (chat.Message, error) {
	if err := s.validatePair(req.SelfID, req.PartnerID); err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(req.Text) == "" && req.Image.Empty() {
		return chat.Message{}, ErrEmptyMessage
	}

	image, err := s.resolver.Resolve(ctx, req.SelfID, req.Image)
	if err != nil {
		return chat.Message{}, err
	}

	stored, err := s.store.Append(ctx, chat.Draft{
		SenderID:   req.SelfID,
		ReceiverID: req.PartnerID,
		Text:       req.Text,
		Image:      image,
	})
	if err != nil {
		s.log.Error("append message failed",
			zap.String("senderId", req.SelfID),
			zap.String("receiverId", req.PartnerID),
			zap.Error(err),
		)
		return chat.Message{}, errors.Join(ErrStoreUnavailable, err)
	}
	metrics.MessagesSent.Inc()

	message := s.normalizer.NormalizeMessage(stored)

	// The message is durable now; a caller hanging up must not stop delivery.
	bg := context.WithoutCancel(ctx)
	if err := s.emitter.Emit(bg, req.PartnerID, message); err != nil {
		s.log.Warn("live delivery failed",
			zap.String("messageId", message.ID),
			zap.String("receiverId", req.PartnerID),
			zap.Error(wrapChannelError(err)),
		)
	}

	if s.publisher != nil {
		exportCtx, cancel := context.WithTimeout(bg, s.exportWait)
		err := s.publisher.PublishMessageCreated(exportCtx, message)
		cancel()
		if err != nil {
			s.log.Warn("export message.created failed",
				zap.String("messageId", message.ID),
				zap.Error(err),
			)
		}
	}

	return message, nil
}

func wrapChannelError(err error) error {
	if errors.Is(err, ErrChannelUnavailable) {
		return err
	}
	return errors.Join(ErrChannelUnavailable, err)
}

func (s *Service) validatePair(selfID, partnerID string) error {
	if err := s.ValidateIdentifier(selfID); err != nil {
		return err
	}
	return s.ValidateIdentifier(partnerID)
}
