// Package artifact selects the configured artifact store backend.
package artifact

import (
	"fmt"
	"strings"

	"github.com/bnema/arpipe/internal/adapter/artifact/local"
	"github.com/bnema/arpipe/internal/adapter/artifact/s3"
	"github.com/bnema/arpipe/internal/port"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Options struct {
	Backend       string
	LocalRoot     string
	PublicBaseURL string
	S3            s3.Options
}

// New builds the artifact store for opts.Backend (local by default).
func New(opts Options) (port.ArtifactStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendLocal:
		store, err := local.NewStore(opts.LocalRoot, opts.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendS3, "minio":
		s3opts := opts.S3
		if s3opts.PublicBaseURL == "" {
			s3opts.PublicBaseURL = opts.PublicBaseURL
		}
		store, err := s3.NewStore(s3opts)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", opts.Backend)
	}
}
