package ipfs

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultGateway is used when no gateway is configured.
const DefaultGateway = "https://ipfs.io"

// Backend names accepted by Open.
const (
	BackendPinata = "pinata"
	BackendLocal  = "local"
)

// Pin describes an artifact accepted by the storage network.
type Pin struct {
	CID       string
	Size      int64
	Timestamp time.Time
}

// ProgressFunc observes upload progress in bytes.
type ProgressFunc func(sent, total int64)

// Backend persists artifacts and returns their content identifier.
type Backend interface {
	Put(ctx context.Context, name string, data []byte, progress ProgressFunc) (Pin, error)
	Name() string
	// Ready reports configuration problems without contacting the network.
	Ready() error
}

// Config selects and configures a backend.
type Config struct {
	Backend        string
	PinataURL      string
	APIKey         string
	APISecret      string
	JWT            string
	LocalDir       string
	TimeoutSeconds int
}

// Open constructs the configured backend.
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendPinata, "":
		return NewPinata(cfg), nil
	case BackendLocal:
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("ipfs: unsupported backend %q", cfg.Backend)
	}
}

type progressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}
