package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxContentBytes caps how much content a single session accepts.
const MaxContentBytes = 64 << 20

// Fingerprint returns the lowercase hex SHA-256 digest of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadContent reads up to MaxContentBytes from r. Larger inputs are rejected
// rather than truncated.
func ReadContent(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxContentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxContentBytes {
		return nil, fmt.Errorf("content exceeds %d bytes", MaxContentBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("content is empty")
	}
	return data, nil
}

// LoadContent reads a file from disk and reports its base name and media type.
func LoadContent(path string) ([]byte, string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", "", err
	}
	defer file.Close()

	data, err := ReadContent(file)
	if err != nil {
		return nil, "", "", fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return data, name, SniffMediaType(name, data), nil
}

// SniffMediaType detects the media type from content, falling back to the
// file extension when the content sniffer only reports a generic type.
func SniffMediaType(name string, data []byte) string {
	detected := http.DetectContentType(data)
	if detected != "application/octet-stream" && !strings.HasPrefix(detected, "text/plain") {
		return stripParams(detected)
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return stripParams(byExt)
	}
	return stripParams(detected)
}

// ExtensionFor returns a file extension (with dot) for a media type, or the
// fallback when none is registered.
func ExtensionFor(mediaType, fallback string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return fallback
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place so readers never observe a partial artifact.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func stripParams(mediaType string) string {
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	return mediaType
}
