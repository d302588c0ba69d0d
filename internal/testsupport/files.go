package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// PNGBytes returns size bytes that sniff as image/png. The seed byte varies
// the payload so distinct calls produce distinct fingerprints.
func PNGBytes(size int, seed byte) []byte {
	if size < len(pngSignature)+1 {
		size = len(pngSignature) + 1
	}
	data := make([]byte, size)
	copy(data, pngSignature)
	for i := len(pngSignature); i < size; i++ {
		data[i] = seed
	}
	return data
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
