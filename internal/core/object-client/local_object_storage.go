package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

// LocalClient stores objects as files under root/<bucket>/<key>.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, errors.New("local storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalClient{root: abs}, nil
}

// path rejects keys that would escape the bucket directory.
func (c *LocalClient) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("bucket and key are required")
	}
	base := filepath.Join(c.root, filepath.Clean("/"+bucket))
	p := filepath.Join(base, filepath.Clean("/"+key))
	if !strings.HasPrefix(p, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (c *LocalClient) UploadFile(ctx context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := c.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	return "file://" + filepath.ToSlash(p), nil
}

func (c *LocalClient) DeleteFile(_ context.Context, bucket, key string) error {
	p, err := c.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local delete failed: %w", err)
	}
	return nil
}

func (c *LocalClient) GetObjectReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: object %s/%s", core.ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("local get failed: %w", err)
	}
	return f, nil
}
