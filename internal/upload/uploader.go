// Package upload pins fingerarked artifacts to content-addressed storage.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/logging"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ipfs"
	"ledgermark/internal/stage"
)

const stageName = "upload"

// Uploader implements pipeline.Uploader on an ipfs.Backend.
type Uploader struct {
	backend  ipfs.Backend
	gateway  string
	progress ipfs.ProgressFunc
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Uploader.
type Option func(*Uploader)

// WithProgress reports bytes sent during each upload.
func WithProgress(fn ipfs.ProgressFunc) Option {
	return func(u *Uploader) { u.progress = fn }
}

// WithClock overrides the time source used for derived names.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUploader wires an uploader to backend. gateway is used to build
// retrieval URLs.
func NewUploader(backend ipfs.Backend, gateway string, logger *slog.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		backend: backend,
		gateway: gateway,
		logger:  logging.NewComponentLogger(logger, stageName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores the transformed artifact under a name derived from the
// original filename.
func (u *Uploader) Upload(ctx context.Context, content pipeline.ContentItem, embedding pipeline.EmbeddingResult) (pipeline.StorageReceipt, error) {
	if u.backend == nil {
		return pipeline.StorageReceipt{}, services.Wrap(services.ErrConfiguration, stageName, "upload", "storage backend not configured", nil)
	}
	if len(embedding.Artifact) == 0 {
		return pipeline.StorageReceipt{}, services.Wrap(services.ErrValidation, stageName, "upload", "no embedding result to upload", nil)
	}
	name := DerivedName(content.Filename, embedding.MediaType, u.now())
	logger := logging.WithContext(ctx, u.logger)
	logger.Debug("uploading artifact",
		logging.String("backend", u.backend.Name()),
		logging.String("name", name),
		logging.Int("bytes", len(embedding.Artifact)),
	)

	pin, err := u.backend.Put(ctx, name, embedding.Artifact, u.progress)
	if err != nil {
		return pipeline.StorageReceipt{}, services.Wrap(services.MarkerOf(err, services.ErrService), stageName, "upload",
			fmt.Sprintf("upload to %s failed", u.backend.Name()), err)
	}
	storedAt := pin.Timestamp
	if storedAt.IsZero() {
		storedAt = u.now().UTC()
	}
	size := pin.Size
	if size == 0 {
		size = int64(len(embedding.Artifact))
	}
	return pipeline.StorageReceipt{
		CID:        pin.CID,
		Filename:   name,
		Size:       size,
		Backend:    u.backend.Name(),
		GatewayURL: ipfs.GatewayURL(u.gateway, pin.CID),
		StoredAt:   storedAt,
	}, nil
}

// HealthCheck reports backend configuration problems.
func (u *Uploader) HealthCheck(context.Context) stage.Health {
	if u.backend == nil {
		return stage.Unhealthy(stageName, "storage backend not configured")
	}
	if err := u.backend.Ready(); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.HealthyWithDetail(stageName, u.backend.Name())
}

// DerivedName returns "<stem>_fingerark_<unix>.<ext>" so the stored name
// never equals the original.
func DerivedName(original, mediaType string, now time.Time) string {
	base := filepath.Base(strings.TrimSpace(original))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" || stem == string(filepath.Separator) {
		stem = "content"
	}
	if ext == "." {
		ext = ""
	}
	ext = fileutil.ExtensionFor(mediaType, ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_fingerark_%d%s", stem, now.Unix(), ext)
}
