// Package metadata inspects compiled marker artifacts.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
	"github.com/rs/zerolog"
)

// Extractor reads artifact metadata from the local filesystem.
type Extractor struct {
	log zerolog.Logger
	now func() time.Time
}

func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{
		log: log.With().Str("component", "metadata").Logger(),
		now: time.Now,
	}
}

// Extract collects size, format and checksum for the artifact at path.
// It never fails: unreadable parts are logged and left zero.
func (e *Extractor) Extract(path string) domain.ArtifactMetadata {
	meta := domain.ArtifactMetadata{
		FormatTag:   FormatTag(path),
		ExtractedAt: e.now().UTC(),
	}

	info, err := os.Stat(path)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("artifact stat failed")
		return meta
	}
	meta.SizeBytes = info.Size()

	sum, err := checksum(path)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("artifact checksum failed")
		return meta
	}
	meta.Checksum = sum
	return meta
}

// Validate reports whether path is a regular file whose size lies within
// [minBytes, maxBytes]. A non-positive maxBytes disables the upper bound.
func (e *Extractor) Validate(path string, minBytes, maxBytes int64) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	size := info.Size()
	if size < minBytes || size == 0 {
		return false
	}
	if maxBytes > 0 && size > maxBytes {
		return false
	}
	return true
}

// FormatTag derives the artifact format from its extension.
func FormatTag(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "unknown"
	}
	return ext
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ port.MetadataExtractor = (*Extractor)(nil)
