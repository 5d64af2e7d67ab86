// Package lease grants per-content exclusive leases backed by lock files, so
// marker jobs for one content item never overlap, across workers and across
// processes sharing the data directory.
package lease

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
	"github.com/gofrs/flock"
)

type FileLocker struct {
	dir string

	mu   sync.Mutex
	held map[string]*flock.Flock
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("lease: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lease: ensure directory: %w", err)
	}
	return &FileLocker{dir: dir, held: make(map[string]*flock.Flock)}, nil
}

// TryLock takes the lease for contentID without blocking.
func (l *FileLocker) TryLock(contentID string) (func() error, error) {
	if contentID == "" {
		return nil, errors.New("lease: content id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[contentID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobInProgress, contentID)
	}

	fl := flock.New(l.path(contentID))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lease: lock %s: %w", contentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobInProgress, contentID)
	}
	l.held[contentID] = fl

	var once sync.Once
	unlock := func() error {
		var unlockErr error
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, contentID)
			l.mu.Unlock()
			unlockErr = fl.Unlock()
		})
		return unlockErr
	}
	return unlock, nil
}

// Held reports whether this process currently holds the lease for contentID.
func (l *FileLocker) Held(contentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[contentID]
	return ok
}

func (l *FileLocker) path(contentID string) string {
	return filepath.Join(l.dir, url.PathEscape(contentID)+".lock")
}

var _ port.ContentLocker = (*FileLocker)(nil)
