// Package dedup asks the transform service whether content is already
// registered on the ledger.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ledgermark/internal/logging"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/services/transform"
	"ledgermark/internal/stage"
)

const stageName = "dedup"

// CheckService is the transform-service operation the checker relies on.
type CheckService interface {
	Check(ctx context.Context, image []byte, filename string) (transform.CheckResult, error)
	Ping(ctx context.Context) error
}

// Checker implements pipeline.DedupChecker.
type Checker struct {
	service CheckService
	logger  *slog.Logger
}

// NewChecker wires a checker to the transform service.
func NewChecker(service CheckService, logger *slog.Logger) *Checker {
	return &Checker{service: service, logger: logging.NewComponentLogger(logger, stageName)}
}

// Check returns whether content is available. The service-reported
// fingerprint wins over the local one. Errors are returned unchanged apart
// from stage tagging.
func (c *Checker) Check(ctx context.Context, content pipeline.ContentItem) (pipeline.DedupOutcome, error) {
	if c.service == nil {
		return pipeline.DedupOutcome{}, services.Wrap(services.ErrConfiguration, stageName, "check", "transform service not configured", nil)
	}
	if len(content.Data) == 0 {
		return pipeline.DedupOutcome{}, services.Wrap(services.ErrValidation, stageName, "check", "no content selected", nil)
	}
	result, err := c.service.Check(ctx, content.Data, content.Filename)
	if err != nil {
		return pipeline.DedupOutcome{}, services.Wrap(services.MarkerOf(err, services.ErrService), stageName, "check", "duplicate check failed", err)
	}

	fingerprint := result.ImageHash
	if fingerprint == "" {
		fingerprint = content.Fingerprint
	} else if content.Fingerprint != "" && fingerprint != content.Fingerprint {
		logger := logging.WithContext(ctx, c.logger)
		logger.Debug("service fingerprint differs from local digest",
			logging.String("local_fingerprint", content.Fingerprint),
			logging.String("service_fingerprint", fingerprint),
		)
	}

	outcome := pipeline.DedupOutcome{Fingerprint: fingerprint}
	if result.Existing != nil {
		record := recordFrom(*result.Existing, fingerprint)
		outcome.Existing = &record
	}
	return outcome, nil
}

// HealthCheck pings the transform service.
func (c *Checker) HealthCheck(ctx context.Context) stage.Health {
	if c.service == nil {
		return stage.Unhealthy(stageName, "transform service not configured")
	}
	if err := c.service.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}

func recordFrom(reg transform.Registration, fingerprint string) pipeline.LedgerRecord {
	record := pipeline.LedgerRecord{
		Owner:       strings.TrimSpace(reg.Owner),
		CID:         strings.TrimSpace(reg.IPFSHash),
		Fingerprint: strings.ToLower(strings.TrimSpace(reg.SHA256Hash)),
		Strength:    reg.Delta,
	}
	if record.Fingerprint == "" {
		record.Fingerprint = fingerprint
	}
	if reg.Timestamp > 0 {
		record.Timestamp = time.Unix(reg.Timestamp, 0).UTC()
	}
	return record
}
