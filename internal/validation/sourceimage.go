// Package validation checks marker job inputs before any compiler time is
// spent on them.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

var (
	ErrSourceMissing   = errors.New("source image does not exist")
	ErrSourceNotFile   = errors.New("source image is not a regular file")
	ErrSourceEmpty     = errors.New("source image is empty")
	ErrDisallowedImage = errors.New("source image type not allowed")
)

// allowedImageTypes lists the formats the marker compiler accepts.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// magicBytesBufferSize is the number of bytes read for content type detection.
const magicBytesBufferSize = 512

// DetectImageType reads up to 512 bytes from reader, detects the MIME type,
// and rewinds the reader.
func DetectImageType(reader io.ReadSeeker) (mime string, allowed bool, err error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := io.ReadFull(reader, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", false, err
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", false, err
	}
	if n == 0 {
		return "application/octet-stream", false, nil
	}
	buf = buf[:n]

	mime = detectWebP(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}
	return mime, allowedImageTypes[mime], nil
}

// CheckSourceImage verifies path is a readable, non-empty JPEG, PNG or WebP
// file and returns its MIME type.
func CheckSourceImage(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	if err != nil {
		return "", fmt.Errorf("stat source image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFile, path)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrSourceEmpty, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source image: %w", err)
	}
	defer func() { _ = f.Close() }()

	mime, allowed, err := DetectImageType(f)
	if err != nil {
		return "", fmt.Errorf("read source image: %w", err)
	}
	if !allowed {
		return mime, fmt.Errorf("%w: %s", ErrDisallowedImage, mime)
	}
	return mime, nil
}

// detectWebP recognises RIFF....WEBP, which older DetectContentType
// implementations report as octet-stream.
func detectWebP(buf []byte) string {
	if len(buf) >= 12 &&
		buf[0] == 'R' && buf[1] == 'I' && buf[2] == 'F' && buf[3] == 'F' &&
		buf[8] == 'W' && buf[9] == 'E' && buf[10] == 'B' && buf[11] == 'P' {
		return "image/webp"
	}
	return ""
}
