package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
)

func TestDataURIUsesDetectedImageType(t *testing.T) {
	// net/http has no signature for HEIC.
	heic := []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")
	uri := dataURI(heic)
	require.True(t, strings.HasPrefix(uri, "data:image/heic;base64,"), uri)

	payload, err := attachment.ParseInline(uri)
	require.NoError(t, err)
	require.Equal(t, heic, payload.Data)

	webp := []byte("RIFF\x1a\x00\x00\x00WEBPVP8 \x0e\x00\x00\x00")
	require.True(t, strings.HasPrefix(dataURI(webp), "data:image/webp;base64,"))
}
