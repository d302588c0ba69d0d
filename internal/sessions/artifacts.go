package sessions

import (
	"errors"
	"os"
	"path/filepath"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/pipeline"
)

type artifactPaths struct {
	original    string
	transformed string
}

// Dir returns the staging directory for a session.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.stagingDir, id)
}

// writeArtifacts stores the bytes carried by state and removes a stale
// transformed artifact once the state no longer holds one.
func (s *Store) writeArtifacts(id string, state pipeline.State) (artifactPaths, error) {
	var paths artifactPaths
	if state == nil {
		return paths, nil
	}
	dir := s.Dir(id)
	if content, ok := pipeline.ContentOf(state); ok && len(content.Data) > 0 {
		paths.original = filepath.Join(dir, "original"+fileutil.ExtensionFor(content.MediaType, ".bin"))
		if err := writeIfChanged(paths.original, content.Data); err != nil {
			return paths, err
		}
	}
	if embedding, ok := pipeline.EmbeddingOf(state); ok && len(embedding.Artifact) > 0 {
		paths.transformed = filepath.Join(dir, "transformed"+fileutil.ExtensionFor(embedding.MediaType, ".bin"))
		if err := writeIfChanged(paths.transformed, embedding.Artifact); err != nil {
			return paths, err
		}
	}
	if err := pruneExcept(dir, paths); err != nil {
		return paths, err
	}
	return paths, nil
}

func (s *Store) removeArtifacts(id string) error {
	err := os.RemoveAll(s.Dir(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func writeIfChanged(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil && fileutil.Fingerprint(existing) == fileutil.Fingerprint(data) {
		return nil
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// pruneExcept removes artifact files in dir that are not referenced by paths.
func pruneExcept(dir string, paths artifactPaths) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() || full == paths.original || full == paths.transformed {
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func readArtifacts(paths artifactPaths) ([]byte, []byte, error) {
	read := func(path string) ([]byte, error) {
		if path == "" {
			return nil, nil
		}
		return os.ReadFile(path)
	}
	original, err := read(paths.original)
	if err != nil {
		return nil, nil, err
	}
	transformed, err := read(paths.transformed)
	if err != nil {
		return nil, nil, err
	}
	return original, transformed, nil
}
