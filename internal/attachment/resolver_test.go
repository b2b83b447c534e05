package attachment_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/mocks"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestResolveNilPayloadHasNoSideEffect(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	resolver := attachment.NewResolver(host, nil)

	ref, err := resolver.Resolve(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestResolveUploadsImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	host.EXPECT().
		Upload(gomock.Any(), gomock.Any(), "image/png", pngBytes).
		DoAndReturn(func(_ context.Context, key, _ string, _ []byte) (string, error) {
			require.True(t, strings.HasPrefix(key, "chat_images/alice/"))
			require.True(t, strings.HasSuffix(key, ".png"))
			return "https://cdn/x.png", nil
		})

	resolver := attachment.NewResolver(host, nil)
	ref, err := resolver.Resolve(context.Background(), "alice", attachment.FromBytes(pngBytes, "x.png"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn/x.png", *ref)
}

func TestResolveHostFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	boom := errors.New("boom")
	host.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", boom)

	resolver := attachment.NewResolver(host, nil)
	_, err := resolver.Resolve(context.Background(), "alice", attachment.FromBytes(pngBytes, ""))
	require.ErrorIs(t, err, attachment.ErrAttachmentUploadFailed)
	require.ErrorIs(t, err, boom)
}

func TestResolveRejectsNonImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)

	resolver := attachment.NewResolver(host, nil)
	_, err := resolver.Resolve(context.Background(), "alice", attachment.FromBytes([]byte("just some text"), ""))
	require.ErrorIs(t, err, attachment.ErrInvalidAttachment)
}

func TestResolveKeepsExternalURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)

	resolver := attachment.NewResolver(host, nil)
	ref, err := resolver.Resolve(context.Background(), "alice", &attachment.Payload{URL: "https://cdn/y.jpg"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn/y.jpg", *ref)

	_, err = resolver.Resolve(context.Background(), "alice", &attachment.Payload{URL: "ftp://nope"})
	require.ErrorIs(t, err, attachment.ErrInvalidAttachment)
}

func TestDiskHostReturnsRelativeReference(t *testing.T) {
	dir := t.TempDir()
	host, err := attachment.NewDiskHost(dir)
	require.NoError(t, err)

	resolver := attachment.NewResolver(host, nil)
	ref, err := resolver.Resolve(context.Background(), "alice", attachment.FromBytes(pngBytes, ""))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(*ref, "uploads/chat_images/alice/"), *ref)
	require.False(t, attachment.IsAbsolute(*ref))

	stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(*ref, "uploads/"))))
	require.NoError(t, err)
	require.Equal(t, pngBytes, stored)

	normalized := attachment.NewNormalizer("http://localhost:8080").Normalize(ref)
	require.Equal(t, "http://localhost:8080/"+*ref, *normalized)
}

func TestDiskHostRejectsTraversal(t *testing.T) {
	host, err := attachment.NewDiskHost(t.TempDir())
	require.NoError(t, err)

	_, err = host.Upload(context.Background(), "../escape.png", "image/png", pngBytes)
	require.Error(t, err)
}
