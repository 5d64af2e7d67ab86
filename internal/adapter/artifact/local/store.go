// Package local stores marker artifacts on the local filesystem and serves
// them under a public base URL.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/arpipe/internal/port"
)

type Store struct {
	root    string
	baseURL string
}

// NewStore roots the store at root. baseURL is the public prefix under which
// root is served, e.g. https://cdn.example.com/artifacts.
func NewStore(root, baseURL string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact store: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact store: ensure root: %w", err)
	}
	return &Store{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Upload copies localPath to <root>/<bucket>/<objectName> and returns its URL.
func (s *Store) Upload(ctx context.Context, localPath, bucket, objectName, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil {
		return "", fmt.Errorf("artifact store: bucket: %w", err)
	}
	if strings.Contains(cleanBucket, "/") {
		return "", fmt.Errorf("artifact store: bucket %q must not contain '/'", bucket)
	}
	cleanKey, err := sanitizeKey(objectName)
	if err != nil {
		return "", fmt.Errorf("artifact store: object: %w", err)
	}

	dest := filepath.Join(s.root, cleanBucket, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("artifact store: ensure directory: %w", err)
	}
	if err := copyFile(localPath, dest); err != nil {
		return "", fmt.Errorf("artifact store: %w", err)
	}
	return s.publicURL(cleanBucket, cleanKey), nil
}

func (s *Store) publicURL(bucket, key string) string {
	escaped := make([]string, 0, strings.Count(key, "/")+1)
	for _, seg := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return s.baseURL + "/" + url.PathEscape(bucket) + "/" + strings.Join(escaped, "/")
}

// copyFile writes through a temp file and renames so readers never observe a
// partially written artifact.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return cleaned, nil
}

var _ port.ArtifactStore = (*Store)(nil)
