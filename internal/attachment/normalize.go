package attachment

import (
	"net/url"
	"strings"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var absoluteSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"data":  {},
	"blob":  {},
}

// IsAbsolute reports whether ref already carries a recognized URL scheme.
func IsAbsolute(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme == "" {
		return false
	}
	_, ok := absoluteSchemes[strings.ToLower(u.Scheme)]
	return ok
}

// Normalizer turns stored image references into dereferenceable URLs.
// Stores may hold either an absolute CDN URL or a path relative to the asset
// base; every read path goes through Normalize.
type Normalizer struct {
	base string
}

// NewNormalizer returns a Normalizer prefixing relative references with base.
// An empty base leaves relative references untouched.
func NewNormalizer(base string) Normalizer {
	return Normalizer{base: strings.TrimRight(strings.TrimSpace(base), "/")}
}

// Base returns the configured asset base location.
func (n Normalizer) Base() string {
	return n.base
}

// Normalize returns nil for an absent reference, the reference itself when
// it is absolute, and base + "/" + ref otherwise.
func (n Normalizer) Normalize(ref *string) *string {
	if ref == nil {
		return nil
	}
	value := strings.TrimSpace(*ref)
	if value == "" {
		return nil
	}
	if IsAbsolute(value) || n.base == "" {
		return &value
	}
	joined := n.base + "/" + strings.TrimLeft(value, "/")
	return &joined
}

// NormalizeMessage returns m with its image reference normalized.
func (n Normalizer) NormalizeMessage(m chat.Message) chat.Message {
	m.Image = n.Normalize(m.Image)
	return m
}

// NormalizeMessages normalizes every message in place and returns the slice.
func (n Normalizer) NormalizeMessages(messages []chat.Message) []chat.Message {
	for i := range messages {
		messages[i] = n.NormalizeMessage(messages[i])
	}
	return messages
}
