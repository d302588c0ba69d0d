package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
)

// LocalStore is a filesystem content-addressed store. Objects are written
// once, keyed by CID, and verified on read.
type LocalStore struct {
	root string
	now  func() time.Time
}

// NewLocalStore constructs a store rooted at root, creating it if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("ipfs: local store root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root, now: time.Now}, nil
}

func (s *LocalStore) Name() string { return BackendLocal }

// Ready reports whether the root directory is usable.
func (s *LocalStore) Ready() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("ipfs: local store root %s is not a directory", s.root)
	}
	return nil
}

// Put stores data and reports its CID. Storing identical bytes twice is a
// no-op; the name does not affect addressing.
func (s *LocalStore) Put(ctx context.Context, _ string, data []byte, progress ProgressFunc) (Pin, error) {
	if err := ctx.Err(); err != nil {
		return Pin{}, err
	}
	id, err := CIDFor(data)
	if err != nil {
		return Pin{}, err
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Pin{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if !os.IsExist(err) {
			return Pin{}, err
		}
		existing, rerr := s.Get(id)
		if rerr != nil || !bytes.Equal(existing, data) {
			return Pin{}, ErrImmutable
		}
	} else {
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return Pin{}, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return Pin{}, err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return Pin{}, err
		}
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return Pin{CID: id.String(), Size: int64(len(data)), Timestamp: s.now().UTC()}, nil
}

// Get returns the bytes stored under id.
func (s *LocalStore) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	got, err := CIDFor(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, ErrCIDMismatch
	}
	return b, nil
}

// Has reports whether id is present.
func (s *LocalStore) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

func (s *LocalStore) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
