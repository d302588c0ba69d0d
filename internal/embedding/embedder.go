// Package embedding turns original content into a fingerarked artifact via
// the transform service.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"ledgermark/internal/logging"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
	"ledgermark/internal/services/transform"
	"ledgermark/internal/stage"
)

const stageName = "embed"

// EmbedService is the transform-service operation the embedder relies on.
type EmbedService interface {
	Embed(ctx context.Context, image []byte, filename string) (transform.EmbedResult, error)
	Ping(ctx context.Context) error
}

// Embedder implements pipeline.Embedder.
type Embedder struct {
	service    EmbedService
	deltaScale int64
	logger     *slog.Logger
}

// NewEmbedder wires an embedder to the transform service. deltaScale is the
// multiplier used to persist the strength on the ledger.
func NewEmbedder(service EmbedService, deltaScale int64, logger *slog.Logger) *Embedder {
	if deltaScale <= 0 {
		deltaScale = ledger.DefaultDeltaScale
	}
	return &Embedder{service: service, deltaScale: deltaScale, logger: logging.NewComponentLogger(logger, stageName)}
}

// Embed submits content and returns the service-reported result. The
// fingerprints come from the service, not from local hashing.
func (e *Embedder) Embed(ctx context.Context, content pipeline.ContentItem) (pipeline.EmbeddingResult, error) {
	if e.service == nil {
		return pipeline.EmbeddingResult{}, services.Wrap(services.ErrConfiguration, stageName, "embed", "transform service not configured", nil)
	}
	if len(content.Data) == 0 {
		return pipeline.EmbeddingResult{}, services.Wrap(services.ErrValidation, stageName, "embed", "no content selected", nil)
	}
	result, err := e.service.Embed(ctx, content.Data, content.Filename)
	if err != nil {
		return pipeline.EmbeddingResult{}, services.Wrap(services.MarkerOf(err, services.ErrService), stageName, "embed", "fingerark embedding failed", err)
	}
	strength := ledger.ScaleDelta(result.Delta, e.deltaScale)
	if strength == nil || !strength.IsInt64() {
		return pipeline.EmbeddingResult{}, services.Wrap(services.ErrService, stageName, "scale strength",
			fmt.Sprintf("service reported unusable strength %v", result.Delta), nil)
	}
	inputFingerprint := result.InputHash
	if inputFingerprint == "" {
		inputFingerprint = content.Fingerprint
	}
	if inputFingerprint != "" && result.ImageHash == inputFingerprint {
		return pipeline.EmbeddingResult{}, services.Wrap(services.ErrService, stageName, "embed",
			"transformed artifact has the same fingerprint as the original", nil)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("embedding received",
		logging.String("fingerprint", result.ImageHash),
		logging.String("input_fingerprint", inputFingerprint),
		logging.Float64("ber", result.BER),
		logging.Int("artifact_bytes", len(result.Artifact)),
	)
	return pipeline.EmbeddingResult{
		Artifact:         result.Artifact,
		MediaType:        result.MediaType,
		Fingerprint:      result.ImageHash,
		InputFingerprint: inputFingerprint,
		Delta:            result.Delta,
		Strength:         strength.Int64(),
		BER:              result.BER,
	}, nil
}

// HealthCheck pings the transform service.
func (e *Embedder) HealthCheck(ctx context.Context) stage.Health {
	if e.service == nil {
		return stage.Unhealthy(stageName, "transform service not configured")
	}
	if err := e.service.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
