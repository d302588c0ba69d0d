package sessions

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"ledgermark/internal/services"
)

// Lock is an exclusive, cross-process hold on one session.
type Lock struct {
	fl *flock.Flock
}

// Lock acquires the session lock without blocking. A session already held
// by another advance yields services.ErrBusy.
func (s *Store) Lock(id string) (*Lock, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(s.lockDir, id+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrBusy, "", "lock session",
			fmt.Sprintf("session %s is being advanced elsewhere; wait for it to finish", id), nil)
	}
	return &Lock{fl: fl}, nil
}

// Unlock releases the lock. The lock file stays until the session is
// deleted so a concurrent opener never locks a different inode.
func (l *Lock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func (s *Store) removeLockFile(id string) {
	_ = os.Remove(filepath.Join(s.lockDir, id+".lock"))
}
