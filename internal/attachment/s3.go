package attachment

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the bucket backing S3Host.
type S3Config struct {
	Region string
	Bucket string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint string
	// PublicBaseURL replaces the default virtual-hosted bucket URL in the
	// returned references, e.g. a CDN in front of the bucket.
	PublicBaseURL string
}

// S3Host uploads attachments to S3 and returns absolute public URLs.
type S3Host struct {
	uploader *manager.Uploader
	cfg      S3Config
}

// NewS3Host loads the default AWS credential chain for cfg.Region.
func NewS3Host(ctx context.Context, cfg S3Config) (*S3Host, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Host{uploader: manager.NewUploader(client), cfg: cfg}, nil
}

// Upload puts data under key and returns its public URL.
func (h *S3Host) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := h.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return h.publicURL(key), nil
}

func (h *S3Host) publicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")

	switch {
	case h.cfg.PublicBaseURL != "":
		return strings.TrimRight(h.cfg.PublicBaseURL, "/") + "/" + escaped
	case h.cfg.Endpoint != "":
		return strings.TrimRight(h.cfg.Endpoint, "/") + "/" + h.cfg.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", h.cfg.Bucket, h.cfg.Region, escaped)
	}
}
