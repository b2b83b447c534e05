package attachment

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("https://assets.example.com/")

	cases := []struct {
		name string
		in   *string
		want *string
	}{
		{"nil", nil, nil},
		{"blank", lo.ToPtr("  "), nil},
		{"absolute https", lo.ToPtr("https://cdn/x.png"), lo.ToPtr("https://cdn/x.png")},
		{"absolute http", lo.ToPtr("http://cdn/x.png"), lo.ToPtr("http://cdn/x.png")},
		{"data uri", lo.ToPtr("data:image/png;base64,AAAA"), lo.ToPtr("data:image/png;base64,AAAA")},
		{"relative", lo.ToPtr("uploads/chat_images/a/x.png"), lo.ToPtr("https://assets.example.com/uploads/chat_images/a/x.png")},
		{"leading slash", lo.ToPtr("/uploads/x.png"), lo.ToPtr("https://assets.example.com/uploads/x.png")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, n.Normalize(tc.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewNormalizer("http://localhost:8080")
	for _, ref := range []string{"uploads/a.png", "https://cdn/x.png", "/b.jpg"} {
		once := n.Normalize(lo.ToPtr(ref))
		twice := n.Normalize(once)
		require.Equal(t, once, twice, ref)
	}
}

func TestNormalizeWithoutBaseKeepsRelative(t *testing.T) {
	n := NewNormalizer("")
	require.Equal(t, lo.ToPtr("uploads/a.png"), n.Normalize(lo.ToPtr("uploads/a.png")))
}

func TestNormalizeMessages(t *testing.T) {
	n := NewNormalizer("http://assets")
	messages := []chat.Message{
		{ID: "1", Image: lo.ToPtr("uploads/a.png")},
		{ID: "2", Text: "hi"},
	}
	got := n.NormalizeMessages(messages)
	require.Equal(t, "http://assets/uploads/a.png", *got[0].Image)
	require.Nil(t, got[1].Image)
}
