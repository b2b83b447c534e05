package attachment

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DiskPrefix is the URL path under which DiskHost files are served.
const DiskPrefix = "uploads"

// DiskHost writes attachments below a local directory and returns paths
// relative to the asset base ("uploads/<key>").
type DiskHost struct {
	dir string
}

// NewDiskHost creates dir if needed.
func NewDiskHost(dir string) (*DiskHost, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskHost{dir: dir}, nil
}

// Dir returns the root directory, for serving the files back.
func (h *DiskHost) Dir() string {
	return h.dir
}

// Upload writes data atomically and returns the relative reference.
func (h *DiskHost) Upload(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}

	target := filepath.Join(h.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	return DiskPrefix + clean, nil
}
