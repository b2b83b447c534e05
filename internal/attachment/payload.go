package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAttachmentUploadFailed reports a failure of the hosting collaborator.
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	// ErrInvalidAttachment reports a payload that is not a decodable image.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// Payload is a raw image submitted with a message. Exactly one of Data or
// URL is set: Data holds the bytes to upload, URL an image the client has
// already hosted elsewhere.
type Payload struct {
	Data     []byte
	Filename string
	URL      string
}

// Empty reports whether the payload carries nothing.
func (p *Payload) Empty() bool {
	return p == nil || (len(p.Data) == 0 && strings.TrimSpace(p.URL) == "")
}

// FromBytes wraps raw bytes, typically a multipart file.
func FromBytes(data []byte, filename string) *Payload {
	if len(data) == 0 {
		return nil
	}
	return &Payload{Data: data, Filename: filename}
}

// ParseInline interprets the string form of an image field: an absolute
// http(s) URL, a data URI ("data:image/png;base64,...") or bare base64.
// A blank value yields a nil payload.
func ParseInline(raw string) (*Payload, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return &Payload{URL: value}, nil
	}

	if strings.HasPrefix(lower, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 || !strings.Contains(lower[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data uri", ErrInvalidAttachment)
		}
		value = value[comma+1:]
	}

	data, err := decodeBase64(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &Payload{Data: data}, nil
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, value)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(value); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("payload is not valid base64")
}
