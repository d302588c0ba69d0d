package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"ledgermark/internal/stage"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) stage.Health {
	path = strings.TrimSpace(path)
	if path == "" {
		return stage.Unhealthy(name, "not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stage.Unhealthy(name, fmt.Sprintf("%s (error: does not exist)", path))
		}
		return stage.Unhealthy(name, fmt.Sprintf("%s (error: stat: %v)", path, err))
	}
	if !info.IsDir() {
		return stage.Unhealthy(name, fmt.Sprintf("%s (error: is not a directory)", path))
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err))
	}
	return stage.Health{Name: name, Ready: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
