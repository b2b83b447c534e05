//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=../mocks/mock_host.go -package=mocks
package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/metrics"
)

// Folder groups chat uploads inside the attachment host.
const Folder = "chat_images"

// Host is the attachment-hosting collaborator. Upload stores data under key
// and returns a durable reference: an absolute URL or a path relative to the
// asset base.
type Host interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Resolver turns an optional image payload into a durable reference.
type Resolver struct {
	host Host
	log  *zap.Logger
}

// NewResolver builds a Resolver uploading through host.
func NewResolver(host Host, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{host: host, log: log}
}

// Resolve returns nil for an absent payload. Externally hosted URLs are kept
// as-is; raw images are uploaded under chat_images/<ownerID>/.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, payload *Payload) (*string, error) {
	if payload.Empty() {
		return nil, nil
	}

	if len(payload.Data) == 0 {
		ref := strings.TrimSpace(payload.URL)
		if !IsAbsolute(ref) {
			return nil, fmt.Errorf("%w: image url must be absolute", ErrInvalidAttachment)
		}
		return &ref, nil
	}

	mtype := mimetype.Detect(payload.Data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrInvalidAttachment, mtype.String())
	}

	if r.host == nil {
		return nil, fmt.Errorf("%w: no attachment host configured", ErrAttachmentUploadFailed)
	}

	key := path.Join(Folder, ownerID, uuid.NewString()+mtype.Extension())
	ref, err := r.host.Upload(ctx, key, mtype.String(), payload.Data)
	if err != nil {
		metrics.AttachmentUploads.WithLabelValues("error").Inc()
		r.log.Error("attachment upload failed", zap.String("key", key), zap.Error(err))
		return nil, errors.Join(ErrAttachmentUploadFailed, err)
	}
	if strings.TrimSpace(ref) == "" {
		metrics.AttachmentUploads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: host returned an empty reference", ErrAttachmentUploadFailed)
	}

	metrics.AttachmentUploads.WithLabelValues("ok").Inc()
	r.log.Debug("attachment uploaded",
		zap.String("key", key),
		zap.String("contentType", mtype.String()),
		zap.Int("size", len(payload.Data)),
	)
	return &ref, nil
}
